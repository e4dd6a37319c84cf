package bot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const initDataMaxAge = 24 * time.Hour

type userIDKey struct{}

// HTTPServer exposes the saved values of the calling Telegram user
type HTTPServer struct {
	bot         *Bot
	webhookMode bool // If false (polling mode), authentication is skipped for local dev
	now         func() time.Time
}

// NewHTTPServer creates the values API
func NewHTTPServer(bot *Bot, webhookMode bool) *HTTPServer {
	return &HTTPServer{
		bot:         bot,
		webhookMode: webhookMode,
		now:         time.Now,
	}
}

// RegisterRoutes registers API routes on the provided mux
func (hs *HTTPServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/values", hs.authMiddleware(hs.handleValues))
}

// ValidateInitData checks a Telegram Mini App initData string signed with token and returns the user ID
func ValidateInitData(initData, token string, now time.Time) (int64, error) {
	if initData == "" {
		return 0, fmt.Errorf("missing initData")
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return 0, fmt.Errorf("invalid initData format: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return 0, fmt.Errorf("missing hash in initData")
	}
	values.Del("hash")

	if !hmac.Equal([]byte(signInitData(values, token)), []byte(hash)) {
		return 0, fmt.Errorf("invalid hash")
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("missing auth_date")
	}
	if now.Sub(time.Unix(authDate, 0)) > initDataMaxAge {
		return 0, fmt.Errorf("initData is too old")
	}

	userStr := values.Get("user")
	if userStr == "" {
		return 0, fmt.Errorf("missing user data")
	}
	var userData struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(userStr), &userData); err != nil {
		return 0, fmt.Errorf("invalid user data: %w", err)
	}
	return userData.ID, nil
}

// signInitData computes the hex HMAC of the sorted data-check-string
func signInitData(values url.Values, token string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dataCheckString strings.Builder
	for i, k := range keys {
		if i > 0 {
			dataCheckString.WriteByte('\n')
		}
		dataCheckString.WriteString(k)
		dataCheckString.WriteByte('=')
		dataCheckString.WriteString(values.Get(k))
	}

	secretKey := hmac.New(sha256.New, []byte("WebAppData"))
	secretKey.Write([]byte(token))

	h := hmac.New(sha256.New, secretKey.Sum(nil))
	h.Write([]byte(dataCheckString.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// authMiddleware resolves the calling user from Telegram initData.
// In polling mode the user is taken from the user_id query parameter instead.
func (hs *HTTPServer) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := hs.authenticate(r)
		if err != nil {
			hs.bot.logger.Warn("Failed to authenticate request",
				zap.Error(err),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		if !hs.bot.isAllowed(userID) {
			hs.bot.logger.Warn("User not allowed", zap.Int64("user_id", userID))
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, userID)))
	}
}

func (hs *HTTPServer) authenticate(r *http.Request) (int64, error) {
	if !hs.webhookMode {
		return strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "tma ") {
		return 0, fmt.Errorf("missing or invalid authorization header")
	}
	return ValidateInitData(strings.TrimPrefix(authHeader, "tma "), hs.bot.token, hs.now())
}

// handleValues returns the caller's saved key life values, newest first
func (hs *HTTPServer) handleValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	userID, _ := r.Context().Value(userIDKey{}).(int64)
	values, err := hs.bot.deps.DB.ListUserValues(r.Context(), userID)
	if err != nil {
		hs.bot.logger.Error("Failed to list values", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch values")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(values); err != nil {
		hs.bot.logger.Warn("Failed to encode values", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
