package handlers

import (
	"net/http"

	"bingohall/middleware"
	"bingohall/models"
	"bingohall/services"

	"github.com/gin-gonic/gin"
)

type GameHandler struct {
	gameService *services.GameService
	cardService *services.CardService
	coordinator *services.Coordinator
	authorizer  services.Authorizer
}

func NewGameHandler(gameService *services.GameService, cardService *services.CardService, coordinator *services.Coordinator, authorizer services.Authorizer) *GameHandler {
	return &GameHandler{
		gameService: gameService,
		cardService: cardService,
		coordinator: coordinator,
		authorizer:  authorizer,
	}
}

type finishRoundRequest struct {
	Reason string `json:"reason"`
}

type issueCardRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (h *GameHandler) CreateGame(c *gin.Context) {
	principal, _ := middleware.Principal(c)

	var req services.CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scope := &models.Game{TenantID: principal.TenantID, ShopID: req.ShopID}
	if err := h.authorizer.CanOperate(principal, scope); err != nil {
		respondError(c, err)
		return
	}

	game, err := h.gameService.CreateGame(c.Request.Context(), principal.TenantID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, game)
}

// game loads the :id game of the caller's tenant and checks it with allow.
func (h *GameHandler) game(c *gin.Context, allow func(*services.Principal, *models.Game) error) (*models.Game, bool) {
	principal, _ := middleware.Principal(c)
	id, ok := idParam(c, "id")
	if !ok {
		return nil, false
	}

	game, err := h.gameService.GetGame(c.Request.Context(), principal.TenantID, id)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if err := allow(principal, game); err != nil {
		respondError(c, err)
		return nil, false
	}
	return game, true
}

func (h *GameHandler) GetGame(c *gin.Context) {
	game, ok := h.game(c, h.authorizer.CanJoin)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, game)
}

func (h *GameHandler) GetActiveRound(c *gin.Context) {
	game, ok := h.game(c, h.authorizer.CanJoin)
	if !ok {
		return
	}

	round, err := h.coordinator.GetActiveRound(c.Request.Context(), game.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if round == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active round"})
		return
	}
	c.JSON(http.StatusOK, round)
}

func (h *GameHandler) GetRoundState(c *gin.Context) {
	game, ok := h.game(c, h.authorizer.CanJoin)
	if !ok {
		return
	}
	roundID, ok := idParam(c, "roundId")
	if !ok {
		return
	}

	state, err := h.coordinator.RoundSnapshot(c.Request.Context(), game.ID, roundID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// roundCommand runs an operator lifecycle command against :roundId and
// answers with the round's state afterwards.
func (h *GameHandler) roundCommand(c *gin.Context, command func(game *models.Game, roundID uint) error) {
	game, ok := h.game(c, h.authorizer.CanOperate)
	if !ok {
		return
	}
	roundID, ok := idParam(c, "roundId")
	if !ok {
		return
	}

	if err := command(game, roundID); err != nil {
		respondError(c, err)
		return
	}

	state, err := h.coordinator.RoundSnapshot(c.Request.Context(), game.ID, roundID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *GameHandler) StartRound(c *gin.Context) {
	h.roundCommand(c, func(game *models.Game, roundID uint) error {
		return h.coordinator.RequestStart(c.Request.Context(), game.ID, roundID)
	})
}

func (h *GameHandler) PauseRound(c *gin.Context) {
	h.roundCommand(c, func(game *models.Game, roundID uint) error {
		return h.coordinator.Pause(c.Request.Context(), game.ID, roundID)
	})
}

func (h *GameHandler) ResumeRound(c *gin.Context) {
	h.roundCommand(c, func(game *models.Game, roundID uint) error {
		return h.coordinator.Resume(c.Request.Context(), game.ID, roundID)
	})
}

func (h *GameHandler) CompleteRound(c *gin.Context) {
	var req finishRoundRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}
	h.roundCommand(c, func(game *models.Game, roundID uint) error {
		return h.coordinator.Complete(c.Request.Context(), game.ID, roundID, req.Reason)
	})
}

func (h *GameHandler) CancelRound(c *gin.Context) {
	var req finishRoundRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}
	h.roundCommand(c, func(game *models.Game, roundID uint) error {
		return h.coordinator.Cancel(c.Request.Context(), game.ID, roundID, req.Reason)
	})
}

func (h *GameHandler) CallNext(c *gin.Context) {
	game, ok := h.game(c, h.authorizer.CanOperate)
	if !ok {
		return
	}
	roundID, ok := idParam(c, "roundId")
	if !ok {
		return
	}

	result, err := h.coordinator.CallNext(c.Request.Context(), game.ID, roundID)
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Exhausted {
		c.JSON(http.StatusOK, gin.H{"exhausted": true})
		return
	}
	c.JSON(http.StatusCreated, result.Call)
}

// IssueCard deals a card to the caller, or to participant_id when an
// operator issues on someone's behalf.
func (h *GameHandler) IssueCard(c *gin.Context) {
	principal, _ := middleware.Principal(c)

	var req issueCardRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	allow := h.authorizer.CanJoin
	if req.ParticipantID == "" {
		req.ParticipantID = principal.UserID
	} else if req.ParticipantID != principal.UserID {
		allow = h.authorizer.CanOperate
	}

	game, ok := h.game(c, allow)
	if !ok {
		return
	}
	roundID, ok := idParam(c, "roundId")
	if !ok {
		return
	}

	card, err := h.cardService.IssueCard(c.Request.Context(), game.ID, roundID, req.ParticipantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, card)
}
