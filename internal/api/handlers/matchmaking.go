package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dotaduels/backend/internal/matchmaking"
	"github.com/dotaduels/backend/internal/store"
)

// matchPayload renders a pairing result in the shape the mini app expects
func matchPayload(v *matchmaking.MatchView) gin.H {
	return gin.H{
		"match_id": v.MatchID,
		"opponent": gin.H{
			"first_name": v.OpponentName,
			"username":   v.OpponentUsername,
		},
		"stake":  v.Stake,
		"prize":  v.Prize,
		"status": v.Status,
	}
}

// StartMatchmaking debits the stake and pairs the user or queues them
func StartMatchmaking(svc *matchmaking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TelegramID int64 `json:"telegram_id" binding:"required"`
			Stake      int64 `json:"stake" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "telegram_id and stake are required"})
			return
		}

		outcome, err := svc.Start(c.Request.Context(), req.TelegramID, req.Stake)
		switch {
		case err == nil:
		case errors.Is(err, matchmaking.ErrInvalidStake):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "stake is not an allowed tier"})
			return
		case errors.Is(err, store.ErrInsufficientFunds):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "insufficient balance"})
			return
		case errors.Is(err, store.ErrAlreadyQueued):
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "already searching at this stake"})
			return
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "user not found"})
			return
		default:
			log.Printf("[ERROR] StartMatchmaking failed for telegram_id=%d: %v", req.TelegramID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
			return
		}

		if outcome.MatchFound {
			c.JSON(http.StatusOK, gin.H{
				"success":     true,
				"match_found": true,
				"match":       matchPayload(outcome.Match),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"match_found": false,
			"status":      "queued",
			"message":     "Searching for an opponent...",
		})
	}
}

// CancelMatchmaking removes the user from the queue and refunds the stake.
// Idempotent: cancelling when not queued still returns success.
func CancelMatchmaking(svc *matchmaking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TelegramID int64 `json:"telegram_id" binding:"required"`
			Stake      int64 `json:"stake" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "telegram_id and stake are required"})
			return
		}

		outcome, err := svc.Cancel(c.Request.Context(), req.TelegramID, req.Stake)
		if err != nil {
			if errors.Is(err, matchmaking.ErrInvalidStake) {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "stake is not an allowed tier"})
				return
			}
			log.Printf("[ERROR] CancelMatchmaking failed for telegram_id=%d: %v", req.TelegramID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "status": string(outcome)})
	}
}

// MatchmakingStatus reports queued/matched/idle for the polling client
func MatchmakingStatus(svc *matchmaking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		telegramID, err := strconv.ParseInt(c.Query("telegram_id"), 10, 64)
		if err != nil || telegramID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "telegram_id is required"})
			return
		}

		status, err := svc.Status(c.Request.Context(), telegramID)
		if err != nil {
			log.Printf("[ERROR] MatchmakingStatus failed for telegram_id=%d: %v", telegramID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal error"})
			return
		}

		resp := gin.H{"success": true, "status": status.Status}
		if status.Stake != 0 {
			resp["stake"] = status.Stake
		}
		if status.Match != nil {
			resp["match"] = matchPayload(status.Match)
		}
		c.JSON(http.StatusOK, resp)
	}
}
