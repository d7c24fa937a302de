package network

import (
	"time"

	"github.com/google/uuid"
	"github.com/vidnet/backend/internal/models"
)

// Node is a user in the rendered downline tree
type Node struct {
	User                models.User `json:"user"`
	Level               int         `json:"level"`
	HasActiveMembership bool        `json:"has_active_membership"`
	Children            []*Node     `json:"children"`
}

// Tree nests the levels of the subtree under their sponsors
func (s *Subtree) Tree(now time.Time) []*Node {
	byID := make(map[uuid.UUID]*Node)
	var roots []*Node

	for _, level := range s.Levels {
		for i := range level.Users {
			u := level.Users[i]
			node := &Node{
				User:                u,
				Level:               level.Level,
				HasActiveMembership: u.HasActiveMembership(now),
				Children:            []*Node{},
			}
			byID[u.ID] = node

			if level.Level == 1 {
				roots = append(roots, node)
				continue
			}
			if u.SponsorID != nil {
				if parent, ok := byID[*u.SponsorID]; ok {
					parent.Children = append(parent.Children, node)
				}
			}
		}
	}

	if roots == nil {
		roots = []*Node{}
	}
	return roots
}
