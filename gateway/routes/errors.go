package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"nhbmarket/core/ledger"
	"nhbmarket/gateway/auth"
	"nhbmarket/native/assets"
	"nhbmarket/native/bank"
	"nhbmarket/native/common"
	"nhbmarket/native/market"
)

var errCallerRequired = errors.New("authenticated wallet required")

type statusRule struct {
	status int
	errs   []error
}

// statusRules is evaluated in order; the first matching sentinel wins.
var statusRules = []statusRule{
	{http.StatusNotFound, []error{
		market.ErrListingNotFound,
		assets.ErrCollectionNotFound,
		assets.ErrTokenNotFound,
	}},
	{http.StatusForbidden, []error{
		market.ErrNotOwner,
		market.ErrNotSeller,
		market.ErrNotContractOwner,
		assets.ErrNotMinter,
		assets.ErrNotAuthorized,
		assets.ErrNotTokenOwner,
	}},
	{http.StatusPaymentRequired, []error{
		market.ErrInsufficientPayment,
		bank.ErrInsufficientBalance,
	}},
	{http.StatusConflict, []error{
		market.ErrAuctionAlreadyEnded,
		market.ErrAuctionStillActive,
		market.ErrNoWinningBid,
		market.ErrNotAuction,
		market.ErrRoyaltyAlreadySet,
		assets.ErrCollectionExists,
		assets.ErrTokenExists,
		common.ErrReentrantCall,
		auth.ErrNonceReplayed,
	}},
	{http.StatusUnauthorized, []error{
		errCallerRequired,
		auth.ErrInvalidSignature,
		auth.ErrTimestampSkew,
	}},
	{http.StatusServiceUnavailable, []error{
		common.ErrModulePaused,
		ledger.ErrClosed,
		auth.ErrSecretMissing,
		auth.ErrNonceStore,
	}},
	{http.StatusGatewayTimeout, []error{
		context.DeadlineExceeded,
	}},
	{http.StatusBadRequest, []error{
		market.ErrInvalidPrice,
		market.ErrInvalidAuctionDuration,
		market.ErrRoyaltyOutOfRange,
		market.ErrZeroPayoutAccount,
		market.ErrZeroRecipient,
		market.ErrSettlementToken,
		assets.ErrInvalidCollection,
		assets.ErrInvalidTokenID,
		assets.ErrZeroRecipient,
		assets.ErrApproveToOwner,
		assets.ErrOperatorIsCaller,
		assets.ErrReceiverRejected,
		bank.ErrInvalidAmount,
		bank.ErrUnsupportedToken,
		context.Canceled,
	}},
}

func statusFor(err error) int {
	for _, rule := range statusRules {
		for _, target := range rule.errs {
			if errors.Is(err, target) {
				return rule.status
			}
		}
	}
	return http.StatusInternalServerError
}

// writeError maps err onto an HTTP status. Unclassified errors are reported as
// a generic internal error so storage details never reach clients.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeJSONError(w, status, errors.New(http.StatusText(status)))
		return
	}
	writeJSONError(w, status, err)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		replacer := strings.NewReplacer(
			"\\", "\\\\",
			"\"", "\\\"",
			"\n", "\\n",
			"\r", "\\r",
			"\t", "\\t",
		)
		fallback := fmt.Sprintf("{\"error\":\"%s\"}", replacer.Replace(message))
		payload = []byte(fallback)
	}
	_, _ = w.Write(payload)
}
