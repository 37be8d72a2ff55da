package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"cautela-backend-go/internal/models"
	"cautela-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

type CreateGroupRequest struct {
	Name *string `json:"name"`
}

type JoinGroupRequest struct {
	Code string `json:"code"`
}

type ShareElderRequest struct {
	ElderID string `json:"elderId"`
}

type GroupResponse struct {
	ID        string                     `json:"id"`
	Name      *string                    `json:"name,omitempty"`
	Code      string                     `json:"code"`
	CreatedBy string                     `json:"createdBy"`
	CreatedAt time.Time                  `json:"createdAt"`
	Members   []services.GroupMemberInfo `json:"members"`
	Elders    []services.SharedElderInfo `json:"elders"`
}

func buildGroupResponse(db *sqlx.DB, group models.SharedGroup) (GroupResponse, error) {
	members, err := services.ListGroupMembers(db, group.ID)
	if err != nil {
		return GroupResponse{}, err
	}
	elders, err := services.ListSharedElders(db, group.ID)
	if err != nil {
		return GroupResponse{}, err
	}
	return GroupResponse{
		ID:        group.ID,
		Name:      group.Name,
		Code:      group.Code,
		CreatedBy: group.CreatedBy,
		CreatedAt: group.CreatedAt,
		Members:   members,
		Elders:    elders,
	}, nil
}

func (s *Server) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	group, err := services.CreateSharedGroup(s.DB, userID, req.Name)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp, err := buildGroupResponse(s.DB, group)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusCreated, resp)
}

func (s *Server) JoinGroup(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	var req JoinGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	code := strings.ToLower(strings.TrimSpace(req.Code))
	if code == "" {
		WriteError(w, http.StatusBadRequest, "Group code is required")
		return
	}
	group, err := services.JoinGroupByCode(s.DB, userID, code)
	if err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp, err := buildGroupResponse(s.DB, group)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) MyGroups(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	groups, err := services.ListUserGroups(s.DB, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	items := make([]GroupResponse, 0, len(groups))
	for _, group := range groups {
		resp, err := buildGroupResponse(s.DB, group)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		items = append(items, resp)
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) GetGroup(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	groupID := chi.URLParam(r, "groupId")
	member, err := services.IsGroupMember(s.DB, groupID, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !member {
		WriteError(w, http.StatusForbidden, "You are not a member of this group")
		return
	}
	groups, err := services.ListUserGroups(s.DB, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	for _, group := range groups {
		if group.ID != groupID {
			continue
		}
		resp, err := buildGroupResponse(s.DB, group)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		WriteJSON(w, http.StatusOK, resp)
		return
	}
	WriteError(w, http.StatusNotFound, "Group not found")
}

func (s *Server) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	groupID := chi.URLParam(r, "groupId")
	deleted, err := services.LeaveGroup(s.DB, userID, groupID)
	if err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"groupDeleted": deleted})
}

func (s *Server) RemoveGroupMember(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	groupID := chi.URLParam(r, "groupId")
	memberID := chi.URLParam(r, "userId")
	if err := services.RemoveGroupMember(s.DB, userID, groupID, memberID); err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ShareElder(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	groupID := chi.URLParam(r, "groupId")
	var req ShareElderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if strings.TrimSpace(req.ElderID) == "" {
		WriteError(w, http.StatusBadRequest, "Elder id is required")
		return
	}
	if err := services.ShareElder(s.DB, userID, groupID, req.ElderID); err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) UnshareElder(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r)
	groupID := chi.URLParam(r, "groupId")
	elderID := chi.URLParam(r, "elderId")
	if err := services.UnshareElder(s.DB, userID, groupID, elderID); err != nil {
		if mapServiceError(w, err) {
			return
		}
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
