package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dotaduels/backend/internal/store"
)

// GetOrCreateUser registers a user on first contact and returns the stored
// record on every later call. Idempotent: repeated calls with the same
// telegram_id never create duplicates.
func GetOrCreateUser(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			TelegramID int64  `json:"telegram_id" binding:"required"`
			Username   string `json:"username"`
			FirstName  string `json:"first_name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "telegram_id is required"})
			return
		}

		username := req.Username
		if username == "" {
			username = fmt.Sprintf("user_%d", req.TelegramID)
		}
		firstName := req.FirstName
		if firstName == "" {
			firstName = "User"
		}

		user, created, err := st.GetOrCreateUser(c.Request.Context(), req.TelegramID, username, firstName)
		if err != nil {
			log.Printf("[ERROR] GetOrCreateUser failed for telegram_id=%d: %v", req.TelegramID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to process user"})
			return
		}
		if created {
			log.Printf("[USER] New user: %s (%d)", user.FirstName, user.TelegramID)
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
	}
}

// GetTransactions returns a user's balance history, newest first
func GetTransactions(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		telegramID, err := strconv.ParseInt(c.Param("telegram_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid telegram_id"})
			return
		}

		if _, err := st.GetUser(c.Request.Context(), telegramID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "user not found"})
				return
			}
			log.Printf("[ERROR] GetTransactions - user lookup failed for %d: %v", telegramID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to fetch user"})
			return
		}

		limit := 50
		if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
			limit = v
		}

		txns, err := st.ListTransactions(c.Request.Context(), telegramID, limit)
		if err != nil {
			log.Printf("[ERROR] GetTransactions failed for %d: %v", telegramID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to fetch transactions"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "transactions": txns})
	}
}
