package services

import (
	"fmt"
	"slices"

	"bingohall/models"
)

// Authorizer decides whether a principal may act on a game.
type Authorizer interface {
	CanJoin(p *Principal, game *models.Game) error
	CanOperate(p *Principal, game *models.Game) error
}

// RoleAuthorizer grants by role within the principal's tenant and, when the
// token lists shops, only for games of those shops.
type RoleAuthorizer struct{}

func (RoleAuthorizer) CanJoin(p *Principal, game *models.Game) error {
	return authorize(p, game, RoleAdmin, RoleOperator, RolePlayer)
}

func (RoleAuthorizer) CanOperate(p *Principal, game *models.Game) error {
	return authorize(p, game, RoleAdmin, RoleOperator)
}

func authorize(p *Principal, game *models.Game, roles ...string) error {
	if p.TenantID != game.TenantID {
		return fmt.Errorf("game %d belongs to another tenant: %w", game.ID, ErrPermissionDenied)
	}
	if !p.HasRole(roles...) {
		return fmt.Errorf("user %s lacks role for game %d: %w", p.UserID, game.ID, ErrPermissionDenied)
	}
	if len(p.ShopIDs) > 0 && !slices.Contains(p.ShopIDs, game.ShopID) {
		return fmt.Errorf("user %s is not scoped to shop %d: %w", p.UserID, game.ShopID, ErrPermissionDenied)
	}
	return nil
}
