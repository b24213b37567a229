package handler

import (
	"net/http"
	"strings"

	"github.com/xenking/influencer-settlement/internal/domain/apperr"
	"github.com/xenking/influencer-settlement/internal/domain/payout"
)

// Headers set by the gateway after authenticating the caller.
const (
	headerActorID      = "X-Actor-ID"
	headerActorRole    = "X-Actor-Role"
	headerInfluencerID = "X-Influencer-ID"
)

var (
	errNoActor    = apperr.Forbidden("se requiere un usuario autenticado")
	errAdminsOnly = apperr.Forbidden("solo un administrador puede realizar esta acción")
)

// actorFrom reads the caller asserted by the gateway.
func actorFrom(r *http.Request) (payout.Actor, error) {
	a := payout.Actor{
		ID:           strings.TrimSpace(r.Header.Get(headerActorID)),
		Role:         payout.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(headerActorRole)))),
		InfluencerID: strings.TrimSpace(r.Header.Get(headerInfluencerID)),
	}
	if a.ID == "" {
		return a, errNoActor
	}
	switch a.Role {
	case payout.RoleAdmin:
	case payout.RoleInfluencer:
		if a.InfluencerID == "" {
			return a, errNoActor
		}
	default:
		return a, errNoActor
	}
	return a, nil
}

func requireAdmin(r *http.Request) (payout.Actor, error) {
	a, err := actorFrom(r)
	if err != nil {
		return a, err
	}
	if a.Role != payout.RoleAdmin {
		return a, errAdminsOnly
	}
	return a, nil
}

// requireAdminOr allows admins and the influencer with the given id.
func requireAdminOr(r *http.Request, influencerID string) (payout.Actor, error) {
	a, err := actorFrom(r)
	if err != nil {
		return a, err
	}
	if a.Role == payout.RoleAdmin || a.InfluencerID == influencerID {
		return a, nil
	}
	return a, errAdminsOnly
}
