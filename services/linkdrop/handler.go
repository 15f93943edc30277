package linkdrop

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"linkdrop/pkg/config"
	"linkdrop/pkg/db/pagination"
	"linkdrop/pkg/errutil"
	"linkdrop/pkg/invocation"
	"linkdrop/pkg/keys"
	"linkdrop/pkg/middleware"
	"linkdrop/pkg/units"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HeaderAccountID names the account funding a deposit.
const HeaderAccountID = "X-Account-ID"

type Handler struct {
	svc     *Service
	secret  string
	maxSkew time.Duration
	await   time.Duration
	clock   middleware.Clock
}

func NewHandler(svc *Service, cfg *config.Config) *Handler {
	return &Handler{
		svc:     svc,
		secret:  cfg.Linkdrop.AdminSecret,
		maxSkew: cfg.Linkdrop.SignatureMaxSkew,
		await:   cfg.Linkdrop.AccountCreationTimeout + 30*time.Second,
	}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	contractID := h.svc.Policy().ContractID

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1/linkdrop")
	v1.PUT("/factory", middleware.AdminAuth(h.secret, contractID, h.maxSkew, h.clock), h.SetFactory)
	v1.POST("/deposits", h.Deposit)
	v1.GET("/keys/:public_key/balance", h.Balance)
	v1.GET("/redemptions", h.ListRedemptions)
	v1.GET("/redemptions/:id", h.GetRedemption)

	signed := v1.Group("", middleware.KeyAuth(contractID, h.maxSkew, h.clock))
	signed.POST("/claim", h.Claim)
	signed.POST("/create-account-claim", h.CreateAccountAndClaim)
}

type setFactoryRequest struct {
	FactoryAccount string `json:"factory_account" binding:"required"`
}

func (h *Handler) SetFactory(c *gin.Context) {
	var req setFactoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	if err := h.svc.SetFactory(c.Request.Context(), req.FactoryAccount); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"factory_account": strings.TrimSpace(req.FactoryAccount)})
}

type depositRequest struct {
	PublicKey keys.PublicKey `json:"public_key"`
	Amount    units.Balance  `json:"amount"`
}

func (h *Handler) Deposit(c *gin.Context) {
	funder := strings.TrimSpace(c.GetHeader(HeaderAccountID))
	if funder == "" {
		_ = c.Error(errutil.BadRequest("missing "+HeaderAccountID+" header", nil))
		return
	}

	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	ctx := invocation.WithContext(c.Request.Context(), invocation.Invocation{
		Predecessor: funder,
		Attached:    req.Amount,
	})

	receipt, err := h.svc.Send(ctx, req.PublicKey)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusOK
	if receipt.NewKey {
		status = http.StatusCreated
	}
	c.JSON(status, receipt)
}

type claimRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

func (h *Handler) Claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	receipt, err := h.svc.Claim(c.Request.Context(), req.AccountID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

type createAccountClaimRequest struct {
	NewAccountID string         `json:"new_account_id" binding:"required"`
	NewPublicKey keys.PublicKey `json:"new_public_key"`
}

func (h *Handler) CreateAccountAndClaim(c *gin.Context) {
	var req createAccountClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	handle, err := h.svc.CreateAccountAndClaim(c.Request.Context(), req.NewAccountID, req.NewPublicKey)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, handle)
}

func (h *Handler) Balance(c *gin.Context) {
	key, err := keys.Parse(c.Param("public_key"))
	if err != nil {
		_ = c.Error(errutil.BadRequest("invalid public key", err))
		return
	}

	balance, err := h.svc.BalanceOf(c.Request.Context(), key)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"public_key": key.String(), "balance": balance})
}

// GetRedemption returns a redemption record. With ?wait=true an in-flight
// new-account redemption is awaited before the record is returned.
func (h *Handler) GetRedemption(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	rec, err := h.svc.GetRedemption(ctx, id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if wait && rec.Status == StatusInFlight {
		awaitCtx, cancel := context.WithTimeout(ctx, h.await)
		defer cancel()

		if _, err := h.svc.AwaitRedemption(awaitCtx, RedemptionHandle{
			RedemptionID: rec.ID,
			WorkflowID:   rec.WorkflowID,
			RunID:        rec.RunID,
		}); err != nil {
			_ = c.Error(err)
			return
		}

		if rec, err = h.svc.GetRedemption(ctx, id); err != nil {
			_ = c.Error(err)
			return
		}
	}

	c.JSON(http.StatusOK, rec)
}

type listRedemptionsRequest struct {
	pagination.Pagination
	PublicKey string `form:"public_key" binding:"required"`
}

func (h *Handler) ListRedemptions(c *gin.Context) {
	var req listRedemptionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid query", err))
		return
	}

	key, err := keys.Parse(req.PublicKey)
	if err != nil {
		_ = c.Error(errutil.BadRequest("invalid public key", err))
		return
	}

	rows, pageInfo, err := h.svc.ListRedemptions(c.Request.Context(), key, req.Pagination)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": pageInfo})
}
