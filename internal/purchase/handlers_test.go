package purchase

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schooltino/creditcore/internal/wallet"
)

func newTestRouter(t *testing.T, roster RecipientEnumerator) (*gin.Engine, *wallet.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := wallet.NewMemoryStore()
	h := NewHandler(NewService(store, roster))
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r, store
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPlanPurchaseEndpoint(t *testing.T) {
	roster := &staticRoster{recipients: []Recipient{{UserID: "stu-1", UserKind: "student"}}}
	r, _ := newTestRouter(t, roster)

	w := postJSON(t, r, "/v1/tenants/school-1/plan/activate", gin.H{
		"plan_id":          "starter",
		"gateway_ref":      "pay_http_1",
		"payment_verified": true,
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	var result PlanResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.UsersCredited)
	assert.False(t, result.Replayed)

	// Same reference again is answered from the committed purchase.
	w = postJSON(t, r, "/v1/tenants/school-1/plan/activate", gin.H{
		"plan_id":          "starter",
		"gateway_ref":      "pay_http_1",
		"payment_verified": true,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Replayed)
}

func TestPlanPurchaseEndpointUnverified(t *testing.T) {
	r, _ := newTestRouter(t, &staticRoster{})

	w := postJSON(t, r, "/v1/tenants/school-1/plan/activate", gin.H{
		"plan_id":     "starter",
		"gateway_ref": "pay_http_2",
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestPlanPurchaseEndpointUnknownPlan(t *testing.T) {
	r, _ := newTestRouter(t, &staticRoster{})

	w := postJSON(t, r, "/v1/tenants/school-1/plan/activate", gin.H{
		"plan_id":          "platinum",
		"gateway_ref":      "pay_http_3",
		"payment_verified": true,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPackPurchaseEndpoint(t *testing.T) {
	r, store := newTestRouter(t, nil)

	w := postJSON(t, r, "/v1/tenants/school-1/users/stu-1/pack/activate", gin.H{
		"pack_id":          "mini",
		"user_kind":        "student",
		"gateway_ref":      "pay_http_4",
		"payment_verified": true,
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	pw, err := store.GetPersonal(context.Background(), "school-1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "20", pw.Available().String())
}

func TestPackPurchaseEndpointBadBody(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	w := postJSON(t, r, "/v1/tenants/school-1/users/stu-1/pack/activate", gin.H{
		"pack_id": "mini",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurchaseEndpointsRejectMalformedFields(t *testing.T) {
	roster := &staticRoster{recipients: []Recipient{{UserID: "stu-1", UserKind: "student"}}}
	r, _ := newTestRouter(t, roster)

	w := postJSON(t, r, "/v1/tenants/school-1/plan/activate", gin.H{
		"plan_id":          "bad plan",
		"gateway_ref":      "pay_1",
		"payment_verified": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "plan_id")

	longRef := strings.Repeat("x", 80)
	w = postJSON(t, r, "/v1/tenants/school-1/plan/activate", gin.H{
		"plan_id":          "starter",
		"gateway_ref":      longRef,
		"payment_verified": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "gateway_ref")

	w = postJSON(t, r, "/v1/tenants/school-1/users/stu-1/pack/activate", gin.H{
		"pack_id":          "../boost",
		"user_kind":        "student",
		"gateway_ref":      "pay_2",
		"payment_verified": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "pack_id")
}
