package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/jmoiron/sqlx"

	"github.com/dotaduels/backend/internal/admin"
	"github.com/dotaduels/backend/internal/config"
	"github.com/dotaduels/backend/internal/store"
)

// AdminLogin validates backoffice credentials and issues a session token
func AdminLogin(db *sqlx.DB, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		account, err := admin.ValidateCredentials(db, req.Username, req.Password)
		if err != nil {
			if errors.Is(err, admin.ErrInvalidCredentials) {
				admin.LogAdminAction(db, req.Username, c.ClientIP(), c.FullPath(), "login", nil, false)
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
				return
			}
			log.Printf("[ADMIN] Login failed for %s: %v", req.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		exp := time.Now().Add(time.Duration(cfg.SessionTimeoutMin) * time.Minute)
		claims := jwt.MapClaims{"username": account.Username, "exp": exp.Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
		if err != nil {
			log.Printf("[ADMIN] Failed to sign token for %s: %v", account.Username, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}

		admin.LogAdminAction(db, account.Username, c.ClientIP(), c.FullPath(), "login", nil, true)
		c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp, "display_name": account.DisplayName})
	}
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// AdminListUsers returns registered users
func AdminListUsers(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c)
		users, err := st.ListUsers(c.Request.Context(), limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to list users: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	}
}

// AdminListMatches returns matches, newest first
func AdminListMatches(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c)
		matches, err := st.ListMatches(c.Request.Context(), limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to list matches: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list matches"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": matches})
	}
}

// AdminAuditLog returns recent backoffice actions
func AdminAuditLog(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c)
		logs, err := admin.GetAuditLogs(db, limit, offset)
		if err != nil {
			log.Printf("[ADMIN] Failed to fetch audit logs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch audit logs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"audit": logs})
	}
}

// AdminResolveMatch completes a match and pays the prize to the winner
func AdminResolveMatch(st store.Store, db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		matchID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
			return
		}
		var req struct {
			WinnerTelegramID int64 `json:"winner_telegram_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "winner_telegram_id is required"})
			return
		}

		username := c.GetString("admin_username")
		match, err := st.ResolveMatch(c.Request.Context(), matchID, req.WinnerTelegramID)
		if err != nil {
			admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "resolve_match",
				map[string]interface{}{"match_id": matchID, "winner": req.WinnerTelegramID, "error": err.Error()}, false)
			switch {
			case errors.Is(err, store.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
			case errors.Is(err, store.ErrMatchClosed):
				c.JSON(http.StatusBadRequest, gin.H{"error": "match is not in progress"})
			case errors.Is(err, store.ErrNotParticipant):
				c.JSON(http.StatusBadRequest, gin.H{"error": "winner is not a match participant"})
			default:
				log.Printf("[ADMIN] Failed to resolve match %d: %v", matchID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve match"})
			}
			return
		}

		admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "resolve_match",
			map[string]interface{}{"match_id": matchID, "winner": req.WinnerTelegramID, "payout": match.Prize}, true)
		c.JSON(http.StatusOK, gin.H{"match": match})
	}
}

// AdminVoidMatch voids a match and refunds both stakes
func AdminVoidMatch(st store.Store, db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		matchID, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid match id"})
			return
		}

		username := c.GetString("admin_username")
		match, err := st.VoidMatch(c.Request.Context(), matchID)
		if err != nil {
			admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "void_match",
				map[string]interface{}{"match_id": matchID, "error": err.Error()}, false)
			switch {
			case errors.Is(err, store.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
			case errors.Is(err, store.ErrMatchClosed):
				c.JSON(http.StatusBadRequest, gin.H{"error": "match is not in progress"})
			default:
				log.Printf("[ADMIN] Failed to void match %d: %v", matchID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to void match"})
			}
			return
		}

		admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "void_match",
			map[string]interface{}{"match_id": matchID}, true)
		c.JSON(http.StatusOK, gin.H{"match": match})
	}
}

// AdminAdjustBalance applies a signed balance correction to a user
func AdminAdjustBalance(st store.Store, db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		telegramID, err := strconv.ParseInt(c.Param("telegram_id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid telegram_id"})
			return
		}
		var req struct {
			Amount int64  `json:"amount" binding:"required"`
			Reason string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount is required"})
			return
		}

		username := c.GetString("admin_username")
		user, err := st.AdjustBalance(c.Request.Context(), telegramID, req.Amount)
		if err != nil {
			admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "adjust_balance",
				map[string]interface{}{"telegram_id": telegramID, "amount": req.Amount, "error": err.Error()}, false)
			switch {
			case errors.Is(err, store.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			case errors.Is(err, store.ErrInsufficientFunds):
				c.JSON(http.StatusBadRequest, gin.H{"error": "adjustment would make balance negative"})
			default:
				log.Printf("[ADMIN] Failed to adjust balance for %d: %v", telegramID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to adjust balance"})
			}
			return
		}

		admin.LogAdminAction(db, username, c.ClientIP(), c.FullPath(), "adjust_balance",
			map[string]interface{}{"telegram_id": telegramID, "amount": req.Amount, "reason": req.Reason}, true)
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}
