package services

import (
	"github.com/jmoiron/sqlx"
)

// Audience is the set of users to notify about an elder, split by how they
// gained visibility. Owners hold a direct monitoring link; members only see
// the elder through a shared group. The two never overlap within one
// resolution, and callers publish to owners first.
type Audience struct {
	Owners  []string
	Members []string
}

func ResolveAudience(db *sqlx.DB, elderID string) (Audience, error) {
	owners := []string{}
	if err := db.Select(&owners, `
SELECT user_id
FROM elder_links
WHERE elder_id = $1
ORDER BY created_at, user_id
`, elderID); err != nil {
		return Audience{}, err
	}

	members := []string{}
	if err := db.Select(&members, `
SELECT DISTINCT sgm.user_id
FROM shared_group_members sgm
JOIN shared_group_elders sge ON sge.group_id = sgm.group_id
WHERE sge.elder_id = $1
ORDER BY sgm.user_id
`, elderID); err != nil {
		return Audience{}, err
	}

	ownerSet := make(map[string]bool, len(owners))
	dedupedOwners := make([]string, 0, len(owners))
	for _, id := range owners {
		if ownerSet[id] {
			continue
		}
		ownerSet[id] = true
		dedupedOwners = append(dedupedOwners, id)
	}
	filtered := make([]string, 0, len(members))
	for _, id := range members {
		if ownerSet[id] {
			continue
		}
		filtered = append(filtered, id)
	}
	return Audience{Owners: dedupedOwners, Members: filtered}, nil
}
