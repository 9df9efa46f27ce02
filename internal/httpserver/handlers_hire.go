package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/hire"
)

// hireMe is `GET /api/v1/ai-for-hire/me`: resolves the caller's account and
// reports its balance, mirroring the gated-proxy catalog's "who am I".
func (h *handlers) hireMe(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token is required"))
		return
	}
	accountID, err := h.ledger.AccountIDByToken(r.Context(), token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	balance, err := h.ledger.GetInfo(r.Context(), accountID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":   accountID,
		"balance_sats": balance,
	})
}

// hireListTasks is `GET /api/v1/ai-for-hire/tasks`: a public listing of open
// (or caller-specified status) tasks, no auth required.
func (h *handlers) hireListTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	tasks, err := h.hire.ListTasks(r.Context(), status)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// hireGetTask is `GET /api/v1/ai-for-hire/tasks/{taskID}`: public task
// detail, embedding the task's quotes (with each quote's message count)
// and deliveries inline so a client doesn't need three separate calls.
func (h *handlers) hireGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	detail, err := h.hire.GetTaskDetail(r.Context(), taskID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	BudgetSats  int64  `json:"budget_sats"`
}

// hireCreateTask is `POST /api/v1/ai-for-hire/tasks`: debits the fixed
// posting fee before writing the task. An insufficient-balance debit is not
// propagated as a plain error — per spec.md §4.9 it surfaces as a 402
// challenge for the posting fee, same shape as the gated-proxy catalog's.
func (h *handlers) hireCreateTask(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token is required"))
		return
	}
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequest("invalid JSON body"))
		return
	}

	ctx := r.Context()
	accountID, err := h.ledger.AccountIDByToken(ctx, token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	fee := h.cfg.Hire.TaskPostingFeeSats
	if fee > 0 {
		if _, debitErr := h.ledger.Debit(ctx, accountID, fee, "hire:create_task"); debitErr != nil {
			if apiErr, ok := apierr.As(debitErr); ok && apiErr.Code == apierr.CodeInsufficientBal {
				_ = h.gate.ChallengeForFee(ctx, w, accountID, fee, "hire", "create_task")
				return
			}
			apierr.WriteHTTP(w, debitErr)
			return
		}
	}

	task, err := h.hire.CreateTask(ctx, accountID, req.Title, req.Description, req.BudgetSats)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

type createQuoteRequest struct {
	PriceSats   int64  `json:"price_sats"`
	Description string `json:"description"`
}

// hireCreateQuote is `POST /api/v1/ai-for-hire/tasks/{taskID}/quotes`: same
// fee-then-402-fallback shape as hireCreateTask, for the quote fee.
func (h *handlers) hireCreateQuote(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token is required"))
		return
	}
	taskID := chi.URLParam(r, "taskID")
	var req createQuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequest("invalid JSON body"))
		return
	}

	ctx := r.Context()
	accountID, err := h.ledger.AccountIDByToken(ctx, token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	fee := h.cfg.Hire.QuoteFeeSats
	if fee > 0 {
		if _, debitErr := h.ledger.Debit(ctx, accountID, fee, "hire:create_quote"); debitErr != nil {
			if apiErr, ok := apierr.As(debitErr); ok && apiErr.Code == apierr.CodeInsufficientBal {
				_ = h.gate.ChallengeForFee(ctx, w, accountID, fee, "hire", "create_quote")
				return
			}
			apierr.WriteHTTP(w, debitErr)
			return
		}
	}

	quote, err := h.hire.CreateQuote(ctx, taskID, accountID, req.PriceSats, req.Description)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quote)
}

type updateQuoteRequest struct {
	PriceSats   *int64  `json:"price_sats,omitempty"`
	Description *string `json:"description,omitempty"`
}

// hireUpdateQuote is `PATCH /api/v1/ai-for-hire/quotes/{quoteID}`:
// contractor-only revision of a still-pending quote.
func (h *handlers) hireUpdateQuote(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token is required"))
		return
	}
	quoteID := chi.URLParam(r, "quoteID")
	var req updateQuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequest("invalid JSON body"))
		return
	}

	ctx := r.Context()
	existing, err := h.hire.GetQuote(ctx, quoteID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	accountID, err := h.ledger.AccountIDByToken(ctx, token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	quote, err := h.hire.UpdateQuote(ctx, existing.TaskID, quoteID, accountID, req.PriceSats, req.Description)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// hireAcceptQuote is `POST /api/v1/ai-for-hire/quotes/{quoteID}/accept`: per
// the L402-funded accept_quote decision (DESIGN.md), the caller authorizes
// either with a bearer token (ledger-debited escrow) or an
// `Authorization: L402 ...` header whose macaroon amount covers the quote
// price (the Lightning payment itself is the escrow, skip_debit=true).
func (h *handlers) hireAcceptQuote(w http.ResponseWriter, r *http.Request) {
	quoteID := chi.URLParam(r, "quoteID")
	ctx := r.Context()

	quote, err := h.hire.GetQuote(ctx, quoteID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	taskID := quote.TaskID

	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "L402 ") {
		task, err := h.hire.GetTask(ctx, taskID)
		if err != nil {
			apierr.WriteHTTP(w, err)
			return
		}
		macAccountID, err := h.gate.VerifyL402Payment(ctx, authz, quote.PriceSats, "hire", "accept_quote")
		if err != nil {
			apierr.WriteHTTP(w, err)
			return
		}
		callerAccountID := macAccountID
		if callerAccountID == "" {
			callerAccountID = task.BuyerAccountID
		}
		if err := h.hire.AcceptQuote(ctx, taskID, quoteID, callerAccountID, true); err != nil {
			apierr.WriteHTTP(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": hire.TaskInEscrow})
		return
	}

	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token or an L402 Authorization header is required"))
		return
	}
	accountID, err := h.ledger.AccountIDByToken(ctx, token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	if err := h.hire.AcceptQuote(ctx, taskID, quoteID, accountID, false); err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Code == apierr.CodeInsufficientBal {
			required, _ := apiErr.Details["required"].(int64)
			_ = h.gate.ChallengeForFee(ctx, w, accountID, required, "hire", "accept_quote")
			return
		}
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": hire.TaskInEscrow})
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

// hireSendMessage is `POST /api/v1/ai-for-hire/quotes/{quoteID}/messages`.
func (h *handlers) hireSendMessage(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token is required"))
		return
	}
	quoteID := chi.URLParam(r, "quoteID")
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequest("invalid JSON body"))
		return
	}

	ctx := r.Context()
	quote, err := h.hire.GetQuote(ctx, quoteID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	accountID, err := h.ledger.AccountIDByToken(ctx, token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	msg, err := h.hire.SendQuoteMessage(ctx, quote.TaskID, quoteID, accountID, req.Body)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// hireGetMessages is `GET
// /api/v1/ai-for-hire/quotes/{quoteID}/messages?since_id=`: a long-poll
// friendly cursor over the thread, restricted to the quote's two parties.
func (h *handlers) hireGetMessages(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token is required"))
		return
	}
	quoteID := chi.URLParam(r, "quoteID")

	var sinceID int64
	if raw := r.URL.Query().Get("since_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			apierr.WriteHTTP(w, apierr.InvalidRequest("since_id must be an integer"))
			return
		}
		sinceID = parsed
	}

	ctx := r.Context()
	quote, err := h.hire.GetQuote(ctx, quoteID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	accountID, err := h.ledger.AccountIDByToken(ctx, token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	messages, err := h.hire.GetQuoteMessages(ctx, quote.TaskID, quoteID, accountID, sinceID)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

type createDeliveryRequest struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
	Notes         string `json:"notes"`
}

// hireCreateDelivery is `POST /api/v1/ai-for-hire/tasks/{taskID}/deliver`.
func (h *handlers) hireCreateDelivery(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token is required"))
		return
	}
	taskID := chi.URLParam(r, "taskID")
	var req createDeliveryRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteHTTP(w, apierr.InvalidRequest("invalid JSON body"))
		return
	}

	ctx := r.Context()
	accountID, err := h.ledger.AccountIDByToken(ctx, token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	delivery, err := h.hire.CreateDelivery(ctx, taskID, accountID, req.Filename, req.ContentBase64, req.Notes)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, delivery)
}

// hireConfirmDelivery is `POST /api/v1/ai-for-hire/tasks/{taskID}/confirm`:
// no request body, per the confirm_delivery Open Question decision.
func (h *handlers) hireConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	token := bearerTokenFromRequest(r)
	if token == "" {
		apierr.WriteHTTP(w, apierr.New(apierr.CodeAccountRequired, "X-Token is required"))
		return
	}
	taskID := chi.URLParam(r, "taskID")

	ctx := r.Context()
	accountID, err := h.ledger.AccountIDByToken(ctx, token)
	if err != nil {
		apierr.WriteHTTP(w, err)
		return
	}

	if err := h.hire.ConfirmDelivery(ctx, taskID, accountID); err != nil {
		apierr.WriteHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": hire.TaskCompleted})
}
