package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vidnet/backend/internal/apperrors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
		wantLogged bool
	}{
		{"validation", apperrors.Validation("name is required"), http.StatusBadRequest, "name is required", false},
		{"unauthorized", apperrors.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials", false},
		{"forbidden", apperrors.Forbidden("account is banned"), http.StatusForbidden, "account is banned", false},
		{"not found", apperrors.NotFound("room not found"), http.StatusNotFound, "room not found", false},
		{"wrapped conflict", fmt.Errorf("payment: %w", apperrors.ErrDuplicateTransaction), http.StatusConflict, "transaction hash already used", false},
		{"invariant", apperrors.Invariant("tally exceeds participants"), http.StatusInternalServerError, internalErrorMessage, true},
		{"unclassified", errors.New("connection reset"), http.StatusInternalServerError, internalErrorMessage, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, hook := test.NewNullLogger()

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			respondError(c, log, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["error"])

			if tt.wantLogged {
				require.Len(t, hook.Entries, 1)
				assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
			} else {
				assert.Empty(t, hook.Entries)
			}
		})
	}
}

func TestPaging(t *testing.T) {
	tests := []struct {
		query     string
		wantPage  int
		wantLimit int
	}{
		{"", 1, 20},
		{"?page=3&limit=5", 3, 5},
		{"?page=0&limit=500", 1, 20},
		{"?page=abc&limit=-1", 1, 20},
	}

	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/rooms"+tt.query, nil)

		page, limit := paging(c, 20)
		assert.Equal(t, tt.wantPage, page, tt.query)
		assert.Equal(t, tt.wantLimit, limit, tt.query)
	}

	assert.Equal(t, gin.H{"page": 2, "limit": 10, "total": int64(21), "pages": int64(3)}, pagination(2, 10, 21))
}

func TestPathID(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}

	_, ok := pathID(c, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid id"}`, w.Body.String())
}
