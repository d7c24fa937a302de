package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidnet/backend/internal/config"
	"github.com/vidnet/backend/internal/database/dbtest"
	"github.com/vidnet/backend/internal/services/account"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		JWT:         config.JWTConfig{Secret: "test-secret", Expiration: time.Hour},
		Membership:  config.DefaultMembershipConfig(),
		MLM:         config.DefaultMLMConfig(),
		Moderation:  config.DefaultModerationConfig(),
		RateLimit:   config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
		FrontendURL: "http://localhost:3000",
		Environment: "test",
	}
}

type client struct {
	t      *testing.T
	router http.Handler
}

func (c client) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

type member struct {
	id    string
	token string
}

func (c client) register(username, referral string) member {
	c.t.Helper()

	code, body := c.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":      username,
		"email":         username + "@example.com",
		"password":      "passw0rd-" + username[:1],
		"first_name":    "Test",
		"last_name":     "Member",
		"referral_code": referral,
	})
	require.Equal(c.t, http.StatusCreated, code, body)
	user := body["user"].(map[string]interface{})
	tokens := body["tokens"].(map[string]interface{})
	return member{id: user["id"].(string), token: tokens["access_token"].(string)}
}

func (c client) pay(m member, hash string) map[string]interface{} {
	c.t.Helper()

	code, body := c.do(http.MethodPost, "/api/payments", m.token, map[string]string{
		"amount":           "10",
		"currency":         "USDT",
		"transaction_hash": hash,
	})
	require.Equal(c.t, http.StatusCreated, code, body)
	return body
}

func newTestApp(t *testing.T, redisClient *redis.Client) (*App, client) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	a, err := New(testConfig(), dbtest.New(t), redisClient, log)
	require.NoError(t, err)
	a.Services.Accounts.SetHashCost(bcrypt.MinCost)
	t.Cleanup(a.Close)
	return a, client{t: t, router: a.Router}
}

func TestMembershipAndCommissionFlow(t *testing.T) {
	_, c := newTestApp(t, nil)

	top := c.register("alice", "")
	mid := c.register("bob", "alice")

	first := c.pay(top, "0xalice-payment-0001")
	assert.Equal(t, float64(0), first["commissions_generated"])

	second := c.pay(mid, "0xbob-payment-00001")
	assert.Equal(t, float64(1), second["commissions_generated"])

	code, body := c.do(http.MethodPost, "/api/payments", mid.token, map[string]string{
		"amount": "10", "currency": "USDT", "transaction_hash": "0xbob-payment-00001",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "transaction hash already used", body["error"])

	code, body = c.do(http.MethodPost, "/api/payments", mid.token, map[string]string{
		"amount": "9", "currency": "USDT", "transaction_hash": "0xbob-payment-00002",
	})
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, body = c.do(http.MethodGet, "/api/mlm/stats", top.token, nil)
	require.Equal(t, http.StatusOK, code)
	stats := body["stats"].(map[string]interface{})
	earned, err := decimal.NewFromString(stats["total_earnings"].(string))
	require.NoError(t, err)
	assert.True(t, earned.Equal(decimal.RequireFromString("3.5")), "earned %s", earned)
	assert.Equal(t, float64(1), stats["network_size"])

	code, body = c.do(http.MethodGet, "/api/mlm/referral-link", top.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "http://localhost:3000/register?ref=alice", body["referral_link"])

	code, body = c.do(http.MethodGet, "/api/mlm/levels/9", top.token, nil)
	assert.Equal(t, http.StatusBadRequest, code, body)

	code, _ = c.do(http.MethodGet, "/api/mlm/network", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRoomVotingFlow(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	_, c := newTestApp(t, redisClient)

	members := []member{c.register("carol", ""), c.register("dave", ""), c.register("erin", "")}
	for i, m := range members {
		c.pay(m, fmt.Sprintf("0xroom-flow-hash-%d", i))
	}

	code, body := c.do(http.MethodPost, "/api/rooms", members[0].token, map[string]interface{}{
		"name":             "Friday Hangout",
		"topic":            "music",
		"description":      "Talking about records",
		"max_participants": 5,
	})
	require.Equal(t, http.StatusCreated, code, body)
	roomID := body["room"].(map[string]interface{})["id"].(string)

	for _, m := range members {
		code, body = c.do(http.MethodPost, "/api/rooms/"+roomID+"/join", m.token, nil)
		require.Equal(t, http.StatusOK, code, body)
	}

	sub := redisClient.Subscribe(context.Background(), "room:"+roomID+":moderation")
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	code, body = c.do(http.MethodPost, "/api/moderation/votings", members[0].token, map[string]string{
		"room_id":        roomID,
		"target_user_id": members[2].id,
		"reason":         "spamming the chat",
	})
	require.Equal(t, http.StatusCreated, code, body)
	voting := body["voting"].(map[string]interface{})
	assert.Equal(t, float64(2), voting["required_votes"])
	votingID := voting["id"].(string)

	code, body = c.do(http.MethodPost, "/api/moderation/votings", members[0].token, map[string]string{
		"room_id":        roomID,
		"target_user_id": members[1].id,
	})
	assert.Equal(t, http.StatusConflict, code, body)

	code, body = c.do(http.MethodPost, "/api/moderation/votings/"+votingID+"/votes", members[2].token, nil)
	assert.Equal(t, http.StatusConflict, code, body)

	code, body = c.do(http.MethodPost, "/api/moderation/votings/"+votingID+"/votes", members[0].token, nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["resolved"])

	code, body = c.do(http.MethodPost, "/api/moderation/votings/"+votingID+"/votes", members[1].token, map[string]string{"reason": "agreed"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["resolved"])
	assert.Equal(t, float64(2), body["current_votes"])

	code, body = c.do(http.MethodPost, "/api/rooms/"+roomID+"/join", members[2].token, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "user was expelled from this room", body["error"])

	code, body = c.do(http.MethodGet, "/api/moderation/users/"+members[2].id+"/expulsions", members[0].token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["expulsions"], 1)

	code, body = c.do(http.MethodGet, "/api/moderation/rooms/"+roomID+"/logs", members[0].token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["logs"], 2)

	var received []string
	for len(received) < 4 {
		msg, err := sub.ReceiveMessage(context.Background())
		require.NoError(t, err)
		var e map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &e))
		received = append(received, e["type"].(string))
	}
	assert.Equal(t, []string{"voting_started", "vote_cast", "vote_cast", "user_expelled"}, received)

	code, _ = c.do(http.MethodDelete, "/api/rooms/"+roomID, members[1].token, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = c.do(http.MethodDelete, "/api/rooms/"+roomID, members[0].token, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAccountSelfService(t *testing.T) {
	_, c := newTestApp(t, nil)

	m := c.register("henry", "")

	code, body := c.do(http.MethodPost, "/api/auth/refresh", m.token, nil)
	require.Equal(t, http.StatusOK, code, body)
	refreshed := body["tokens"].(map[string]interface{})["access_token"].(string)
	assert.NotEmpty(t, refreshed)

	code, body = c.do(http.MethodGet, "/api/auth/me", refreshed, nil)
	require.Equal(t, http.StatusOK, code, body)

	code, body = c.do(http.MethodPut, "/api/users/profile", m.token, map[string]string{"first_name": "Henry", "avatar": "https://cdn.example.com/h.png"})
	require.Equal(t, http.StatusOK, code, body)
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "Henry", user["first_name"])
	assert.Equal(t, "Member", user["last_name"])
	assert.Equal(t, "https://cdn.example.com/h.png", user["avatar"])

	code, body = c.do(http.MethodPut, "/api/users/change-password", m.token, map[string]string{
		"current_password": "not-my-password1",
		"new_password":     "an0ther-passphrase",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "current password is incorrect", body["error"])

	code, body = c.do(http.MethodPut, "/api/users/change-password", m.token, map[string]string{
		"current_password": "passw0rd-h",
		"new_password":     "an0ther-passphrase",
	})
	require.Equal(t, http.StatusOK, code, body)

	code, _ = c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "henry@example.com", "password": "passw0rd-h"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "henry@example.com", "password": "an0ther-passphrase"})
	assert.Equal(t, http.StatusOK, code)
}

func TestEarningsReportRoute(t *testing.T) {
	_, c := newTestApp(t, nil)

	top := c.register("iris", "")
	mid := c.register("jack", "iris")
	c.pay(top, "0xiris-payment-0001")
	c.pay(mid, "0xjack-payment-0001")

	code, body := c.do(http.MethodGet, "/api/mlm/earnings-report", top.token, nil)
	require.Equal(t, http.StatusOK, code, body)
	report := body["report"].(map[string]interface{})
	summary := report["summary"].(map[string]interface{})
	assert.Equal(t, float64(1), summary["total_commissions"])
	total, err := decimal.NewFromString(summary["total_earnings"].(string))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("3.5")), "total %s", total)
	assert.Len(t, report["top_referrals"], 1)
	assert.Len(t, report["recent_commissions"], 1)

	code, body = c.do(http.MethodGet, "/api/mlm/earnings-report?start_date=2000-01-01&end_date=2000-01-31", top.token, nil)
	require.Equal(t, http.StatusOK, code, body)
	summary = body["report"].(map[string]interface{})["summary"].(map[string]interface{})
	assert.Equal(t, float64(0), summary["total_commissions"])

	code, _ = c.do(http.MethodGet, "/api/mlm/earnings-report?start_date=yesterday", top.token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = c.do(http.MethodGet, "/api/mlm/earnings-report?start_date=2030-02-01&end_date=2030-01-01", top.token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdminRoutes(t *testing.T) {
	a, c := newTestApp(t, nil)

	m := c.register("frank", "")
	code, _ := c.do(http.MethodPut, "/api/admin/users/"+m.id+"/status", m.token, map[string]string{"status": "banned"})
	assert.Equal(t, http.StatusForbidden, code)

	admin, err := a.Tokens.GenerateToken(adminID(t, a), "root", true)
	require.NoError(t, err)

	code, body := c.do(http.MethodPut, "/api/admin/users/"+m.id+"/status", admin.AccessToken, map[string]string{"status": "banned", "reason": "fraud"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "banned", body["user"].(map[string]interface{})["status"])

	code, body = c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "frank@example.com", "password": "passw0rd-f"})
	assert.Equal(t, http.StatusForbidden, code, body)

	code, body = c.do(http.MethodGet, "/api/admin/moderation/logs?type=user_banned", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["logs"], 1)

	code, _ = c.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, c := newTestApp(t, nil)

	m := c.register("grace", "")
	c.pay(m, "0xmetrics-hash-0001")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `vidnet_payments_total{currency="USDT"} 1`)
}

// adminID returns the id of a freshly registered account used as the admin principal
func adminID(t *testing.T, a *App) uuid.UUID {
	t.Helper()

	res, err := a.Services.Accounts.Register(context.Background(), account.RegisterInput{
		Email:    "root@example.com",
		Username: "root",
		Password: "admin-passw0rd",
	})
	require.NoError(t, err)
	return res.User.ID
}
