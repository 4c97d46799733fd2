// This is a http type of reporter.
// It reads the watchtower's in-memory state
// and publishes it on the http routes.

package reporter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TEENet-io/watchtower-go/escrow"
	"github.com/TEENet-io/watchtower-go/hashlock"
	"github.com/TEENet-io/watchtower-go/watchtower"
)

const (
	ROUTE_HELLO   = "/hello"
	ROUTE_STATUS  = "/status"
	ROUTE_SWAPS   = "/swaps"
	ROUTE_VAULTS  = "/vaults"
	ROUTE_METRICS = "/metrics"
)

type HttpReporter struct {
	serverIP   string // listen ip
	serverPort string // listen port

	// upstream data sources
	wt  *watchtower.Watchtower
	htl *hashlock.Watchtower // may be nil
}

func NewHttpReporter(serverIP string, serverPort string, wt *watchtower.Watchtower, htl *hashlock.Watchtower) *HttpReporter {
	return &HttpReporter{
		serverIP:   serverIP,
		serverPort: serverPort,
		wt:         wt,
		htl:        htl,
	}
}

// Hook up routes & handlers
func (h *HttpReporter) SetupRouter() *gin.Engine {
	router := gin.Default()

	router.GET(ROUTE_HELLO, Hello)
	router.GET(ROUTE_STATUS, h.Status)
	router.GET(ROUTE_SWAPS, h.Swaps)
	router.GET(ROUTE_VAULTS, h.Vaults)
	router.GET(ROUTE_METRICS, gin.WrapH(promhttp.Handler()))

	return router
}

// Run serves until ctx is done, then shuts the server down.
func (h *HttpReporter) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.serverIP + ":" + h.serverPort,
		Handler: h.SetupRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Example route.
func Hello(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "world",
	})
}

func (h *HttpReporter) Status(c *gin.Context) {
	st := h.wt.Status()
	resp := gin.H{"data": st}
	if h.htl != nil {
		resp["htlcSwaps"] = len(h.htl.Swaps())
		resp["knownWitnesses"] = h.htl.KnownWitnesses()
	}
	c.JSON(http.StatusOK, resp)
}

type swapView struct {
	EscrowHash         string `json:"escrowHash"`
	Type               string `json:"type"`
	TxoHash            string `json:"txoHash,omitempty"`
	Confirmations      int64  `json:"confirmations,omitempty"`
	ClaimAttemptFailed bool   `json:"claimAttemptFailed"`
	Locked             bool   `json:"locked"`
}

func toSwapView(s *escrow.SavedSwap) swapView {
	return swapView{
		EscrowHash:         s.EscrowHash(),
		Type:               s.SwapData.GetType().String(),
		TxoHash:            s.TxoHash,
		Confirmations:      s.SwapData.GetConfirmationsHint(),
		ClaimAttemptFailed: s.ClaimAttemptFailed(),
		Locked:             s.IsLocked(),
	}
}

// Swaps lists tracked escrows, optionally filtered by escrow_hash.
func (h *HttpReporter) Swaps(c *gin.Context) {
	escrowHash := c.Query("escrow_hash")

	all := h.wt.Escrows().Swaps()
	if h.htl != nil {
		all = append(all, h.htl.Swaps()...)
	}

	views := make([]swapView, 0, len(all))
	for _, s := range all {
		if escrowHash != "" && s.EscrowHash() != escrowHash {
			continue
		}
		views = append(views, toSwapView(s))
	}

	if escrowHash != "" && len(views) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No swap found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

type vaultView struct {
	Owner         string `json:"owner"`
	VaultID       string `json:"vaultId"`
	Utxo          string `json:"utxo"`
	Confirmations int64  `json:"confirmations"`
	Opened        bool   `json:"opened"`
}

func (h *HttpReporter) Vaults(c *gin.Context) {
	vaults := h.wt.Vaults().Vaults()
	views := make([]vaultView, 0, len(vaults))
	for _, v := range vaults {
		views = append(views, vaultView{
			Owner:         v.GetOwner(),
			VaultID:       v.GetVaultID().String(),
			Utxo:          v.GetUtxo(),
			Confirmations: v.GetConfirmations(),
			Opened:        v.IsOpened(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}
