// Package hire implements the C9 marketplace state machine (spec.md §4.9):
// tasks, quotes, thread-scoped messages, and deliveries, with an atomic
// escrow-lock transaction on quote acceptance and an atomic escrow-release
// transaction on delivery confirmation.
package hire

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/l402gate/server/internal/apierr"
	"github.com/l402gate/server/internal/callbacks"
	"github.com/l402gate/server/internal/metrics"
	"github.com/l402gate/server/internal/observability"
)

// Task statuses, per spec.md §3.
const (
	TaskOpen      = "open"
	TaskInEscrow  = "in_escrow"
	TaskDelivered = "delivered"
	TaskCompleted = "completed"
	TaskCancelled = "cancelled"
)

// Quote statuses.
const (
	QuotePending  = "pending"
	QuoteAccepted = "accepted"
	QuoteRejected = "rejected"
)

// Task is the buyer-posted work request.
type Task struct {
	ID             string
	BuyerAccountID string
	Title          string
	Description    string
	BudgetSats     int64
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Quote is a contractor's bid on a task.
type Quote struct {
	ID                  string
	TaskID              string
	ContractorAccountID string
	PriceSats           int64
	Description         string
	Status              string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Message is a thread-scoped note between buyer and contractor on a quote.
type Message struct {
	ID             int64
	TaskID         string
	QuoteID        string
	SenderAccountID string
	Body           string
	CreatedAt      time.Time
}

// Delivery is the contractor's submitted work product.
type Delivery struct {
	ID                  string
	TaskID              string
	QuoteID             string
	ContractorAccountID string
	Filename            string
	ContentBase64       string
	Notes               string
	CreatedAt           time.Time
}

// QuoteWithMessageCount decorates a Quote with its thread's message count,
// so a task-detail caller can see which quotes have active discussion
// without a second round trip per quote.
type QuoteWithMessageCount struct {
	Quote
	MessageCount int64
}

// TaskDetail is the task-detail response: the task row plus its quotes
// (each annotated with a message count) and any submitted deliveries.
type TaskDetail struct {
	Task
	Quotes     []QuoteWithMessageCount
	Deliveries []Delivery
}

// Store is the marketplace state machine, backed by the same Postgres pool
// as the account ledger so escrow transactions can lock accounts rows
// directly.
type Store struct {
	db       *sql.DB
	notifier callbacks.Notifier
	registry *observability.Registry
	metrics  *metrics.Metrics
}

// Option configures a Store at construction.
type Option func(*Store)

// WithNotifier wires outbound webhook delivery for confirmed deliveries.
func WithNotifier(n callbacks.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithObservability wires marketplace lifecycle events into the hook registry.
func WithObservability(reg *observability.Registry) Option {
	return func(s *Store) { s.registry = reg }
}

// WithMetrics wires Prometheus observation into escrow lock/release.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New builds a Store against db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, notifier: callbacks.NoopNotifier{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the marketplace tables if they do not already exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hire_tasks (
			id TEXT PRIMARY KEY,
			buyer_account_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			budget_sats BIGINT NOT NULL CHECK (budget_sats > 0),
			status TEXT NOT NULL DEFAULT 'open',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS hire_tasks_status_idx ON hire_tasks (status)`,
		`CREATE TABLE IF NOT EXISTS hire_quotes (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES hire_tasks(id),
			contractor_account_id TEXT NOT NULL,
			price_sats BIGINT NOT NULL CHECK (price_sats > 0),
			description TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS hire_quotes_task_idx ON hire_quotes (task_id)`,
		`CREATE TABLE IF NOT EXISTS hire_messages (
			id BIGSERIAL PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES hire_tasks(id),
			quote_id TEXT NOT NULL REFERENCES hire_quotes(id),
			sender_account_id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS hire_messages_quote_id_idx ON hire_messages (quote_id, id)`,
		`CREATE TABLE IF NOT EXISTS hire_deliveries (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES hire_tasks(id),
			quote_id TEXT NOT NULL REFERENCES hire_quotes(id),
			contractor_account_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			content_base64 TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("hire: apply schema: %w", err)
		}
	}
	return nil
}

// CreateTask inserts a new task in state "open". The caller already paid
// the posting fee through the gate (spec.md §4.9) before this runs.
func (s *Store) CreateTask(ctx context.Context, buyerAccountID, title, description string, budgetSats int64) (*Task, error) {
	if budgetSats <= 0 {
		return nil, apierr.InvalidRequest("budget_sats must be positive")
	}
	id := "task_" + uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hire_tasks (id, buyer_account_id, title, description, budget_sats, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, buyerAccountID, title, description, budgetSats, TaskOpen,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "create task", err)
	}
	return &Task{ID: id, BuyerAccountID: buyerAccountID, Title: title, Description: description, BudgetSats: budgetSats, Status: TaskOpen}, nil
}

// GetTask returns a single task by id.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	err := s.db.QueryRowContext(ctx,
		`SELECT id, buyer_account_id, title, description, budget_sats, status, created_at, updated_at FROM hire_tasks WHERE id = $1`,
		taskID,
	).Scan(&t.ID, &t.BuyerAccountID, &t.Title, &t.Description, &t.BudgetSats, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("task not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "look up task", err)
	}
	return &t, nil
}

// GetTaskDetail returns a task embedded with its quotes (each annotated
// with its thread's message count) and deliveries, the enriched shape the
// public task-detail route serves. Grounded on the original Python
// implementation's get_task_detail, which joins hire_quotes/hire_messages/
// hire_deliveries onto the task row rather than leaving the caller to issue
// three separate list calls.
func (s *Store) GetTaskDetail(ctx context.Context, taskID string) (*TaskDetail, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	quoteRows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.task_id, q.contractor_account_id, q.price_sats, q.description, q.status, q.created_at, q.updated_at,
		        COALESCE(m.cnt, 0) AS message_count
		 FROM hire_quotes q
		 LEFT JOIN (SELECT quote_id, COUNT(*) AS cnt FROM hire_messages GROUP BY quote_id) m ON m.quote_id = q.id
		 WHERE q.task_id = $1
		 ORDER BY q.created_at`,
		taskID,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "list task quotes", err)
	}
	defer quoteRows.Close()

	var quotes []QuoteWithMessageCount
	for quoteRows.Next() {
		var q QuoteWithMessageCount
		if scanErr := quoteRows.Scan(&q.ID, &q.TaskID, &q.ContractorAccountID, &q.PriceSats, &q.Description, &q.Status, &q.CreatedAt, &q.UpdatedAt, &q.MessageCount); scanErr != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "scan task quote", scanErr)
		}
		quotes = append(quotes, q)
	}
	if err := quoteRows.Err(); err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "list task quotes", err)
	}

	deliveryRows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, quote_id, contractor_account_id, filename, content_base64, notes, created_at
		 FROM hire_deliveries WHERE task_id = $1 ORDER BY created_at`,
		taskID,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "list task deliveries", err)
	}
	defer deliveryRows.Close()

	var deliveries []Delivery
	for deliveryRows.Next() {
		var d Delivery
		if scanErr := deliveryRows.Scan(&d.ID, &d.TaskID, &d.QuoteID, &d.ContractorAccountID, &d.Filename, &d.ContentBase64, &d.Notes, &d.CreatedAt); scanErr != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "scan task delivery", scanErr)
		}
		deliveries = append(deliveries, d)
	}
	if err := deliveryRows.Err(); err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "list task deliveries", err)
	}

	return &TaskDetail{Task: *task, Quotes: quotes, Deliveries: deliveries}, nil
}

// ListTasks returns tasks in the given status (open when status is empty),
// most recent first, for public discovery.
func (s *Store) ListTasks(ctx context.Context, status string) ([]Task, error) {
	if status == "" {
		status = TaskOpen
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, buyer_account_id, title, description, budget_sats, status, created_at, updated_at FROM hire_tasks WHERE status = $1 ORDER BY created_at DESC`,
		status,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "list tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		if scanErr := rows.Scan(&t.ID, &t.BuyerAccountID, &t.Title, &t.Description, &t.BudgetSats, &t.Status, &t.CreatedAt, &t.UpdatedAt); scanErr != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "scan task", scanErr)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetQuote looks up a quote by id alone, for routes that carry only a
// quoteID in the path (accept/update/messages) and need the owning task id
// before calling the taskID+quoteID-scoped operations below.
func (s *Store) GetQuote(ctx context.Context, quoteID string) (*Quote, error) {
	var q Quote
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, contractor_account_id, price_sats, description, status, created_at, updated_at FROM hire_quotes WHERE id = $1`,
		quoteID,
	).Scan(&q.ID, &q.TaskID, &q.ContractorAccountID, &q.PriceSats, &q.Description, &q.Status, &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("quote not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "look up quote", err)
	}
	return &q, nil
}

// CreateQuote inserts a pending quote against an open task. The caller
// already paid the quote fee through the gate.
func (s *Store) CreateQuote(ctx context.Context, taskID, contractorAccountID string, priceSats int64, description string) (*Quote, error) {
	if priceSats <= 0 {
		return nil, apierr.InvalidRequest("price_sats must be positive")
	}

	var buyerAccountID, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT buyer_account_id, status FROM hire_tasks WHERE id = $1`,
		taskID,
	).Scan(&buyerAccountID, &status)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("task not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "look up task", err)
	}
	if status != TaskOpen {
		return nil, apierr.InvalidState("task is not open for quotes")
	}
	if contractorAccountID == buyerAccountID {
		return nil, apierr.Forbidden("contractor cannot quote on their own task")
	}

	id := "quote_" + uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hire_quotes (id, task_id, contractor_account_id, price_sats, description, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, taskID, contractorAccountID, priceSats, description, QuotePending,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "create quote", err)
	}
	return &Quote{ID: id, TaskID: taskID, ContractorAccountID: contractorAccountID, PriceSats: priceSats, Description: description, Status: QuotePending}, nil
}

// AcceptQuote is the core atomic escrow-lock transaction (spec.md §4.9).
// Lock order is fixed: task, then quote, then (when debiting) the buyer's
// account, matching §5's deadlock-avoidance rule.
func (s *Store) AcceptQuote(ctx context.Context, taskID, quoteID, callerAccountID string, skipDebit bool) (err error) {
	tx, txErr := s.db.BeginTx(ctx, nil)
	if txErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "begin accept_quote transaction", txErr)
	}
	defer tx.Rollback()

	var buyerAccountID, taskStatus string
	if scanErr := tx.QueryRowContext(ctx,
		`SELECT buyer_account_id, status FROM hire_tasks WHERE id = $1 FOR UPDATE`,
		taskID,
	).Scan(&buyerAccountID, &taskStatus); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return apierr.NotFound("task not found")
		}
		return apierr.Wrap(apierr.CodeInternal, "lock task row", scanErr)
	}
	if callerAccountID != buyerAccountID {
		return apierr.Forbidden("only the task's buyer can accept a quote")
	}
	if taskStatus != TaskOpen {
		return apierr.InvalidState("task is not open")
	}

	var quoteTaskID, quoteStatus, contractorAccountID string
	var priceSats int64
	if scanErr := tx.QueryRowContext(ctx,
		`SELECT task_id, status, price_sats, contractor_account_id FROM hire_quotes WHERE id = $1 FOR UPDATE`,
		quoteID,
	).Scan(&quoteTaskID, &quoteStatus, &priceSats, &contractorAccountID); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return apierr.NotFound("quote not found")
		}
		return apierr.Wrap(apierr.CodeInternal, "lock quote row", scanErr)
	}
	if quoteTaskID != taskID {
		return apierr.InvalidRequest("quote does not belong to this task")
	}
	if quoteStatus != QuotePending {
		return apierr.InvalidState("quote is not pending")
	}

	if !skipDebit {
		var balance int64
		if scanErr := tx.QueryRowContext(ctx,
			`SELECT balance_sats FROM accounts WHERE id = $1 FOR UPDATE`,
			buyerAccountID,
		).Scan(&balance); scanErr != nil {
			if scanErr == sql.ErrNoRows {
				return apierr.New(apierr.CodeAccountRequired, "buyer account not found")
			}
			return apierr.Wrap(apierr.CodeInternal, "lock buyer account row", scanErr)
		}
		if balance < priceSats {
			return apierr.InsufficientBalance(balance, priceSats)
		}
		if _, execErr := tx.ExecContext(ctx,
			`UPDATE accounts SET balance_sats = balance_sats - $1, updated_at = now() WHERE id = $2`,
			priceSats, buyerAccountID,
		); execErr != nil {
			return apierr.Wrap(apierr.CodeInternal, "debit buyer account", execErr)
		}
	}

	if _, execErr := tx.ExecContext(ctx,
		`INSERT INTO usage_log (account_id, endpoint, amount_sats) VALUES ($1, $2, $3)`,
		callerAccountID, fmt.Sprintf("hire:escrow_lock:%s", taskID), priceSats,
	); execErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "write escrow-lock usage log", execErr)
	}

	if _, execErr := tx.ExecContext(ctx,
		`UPDATE hire_quotes SET status = $1, updated_at = now() WHERE id = $2`,
		QuoteAccepted, quoteID,
	); execErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "accept quote", execErr)
	}
	if _, execErr := tx.ExecContext(ctx,
		`UPDATE hire_quotes SET status = $1, updated_at = now() WHERE task_id = $2 AND id != $3 AND status = $4`,
		QuoteRejected, taskID, quoteID, QuotePending,
	); execErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "reject other quotes", execErr)
	}

	if _, execErr := tx.ExecContext(ctx,
		`UPDATE hire_tasks SET status = $1, updated_at = now() WHERE id = $2`,
		TaskInEscrow, taskID,
	); execErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "move task to in_escrow", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "commit accept_quote transaction", commitErr)
	}

	if s.metrics != nil {
		s.metrics.ObserveEscrowLock(skipDebit, priceSats)
	}
	if s.registry != nil {
		s.registry.EmitQuoteAccepted(ctx, observability.QuoteAcceptedEvent{
			Timestamp: time.Now(),
			TaskID:    taskID,
			QuoteID:   quoteID,
			BuyerID:   buyerAccountID,
			SellerID:  contractorAccountID,
			PriceSats: priceSats,
		})
	}
	return nil
}

// SendQuoteMessage appends a message to a quote's thread. The sender must
// be either the task's buyer or the quote's contractor, and the quote must
// still be in a live state.
func (s *Store) SendQuoteMessage(ctx context.Context, taskID, quoteID, senderAccountID, body string) (*Message, error) {
	buyerID, contractorID, status, err := s.quoteParticipants(ctx, taskID, quoteID)
	if err != nil {
		return nil, err
	}
	if senderAccountID != buyerID && senderAccountID != contractorID {
		return nil, apierr.Forbidden("sender is not a participant on this quote")
	}
	if status != QuotePending && status != QuoteAccepted {
		return nil, apierr.InvalidState("quote is not open for messages")
	}

	var id int64
	var createdAt time.Time
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO hire_messages (task_id, quote_id, sender_account_id, body) VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		taskID, quoteID, senderAccountID, body,
	).Scan(&id, &createdAt)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "send message", err)
	}
	return &Message{ID: id, TaskID: taskID, QuoteID: quoteID, SenderAccountID: senderAccountID, Body: body, CreatedAt: createdAt}, nil
}

// GetQuoteMessages returns messages with id > sinceID, ordered by id, for
// long-poll-friendly clients.
func (s *Store) GetQuoteMessages(ctx context.Context, taskID, quoteID, callerAccountID string, sinceID int64) ([]Message, error) {
	buyerID, contractorID, _, err := s.quoteParticipants(ctx, taskID, quoteID)
	if err != nil {
		return nil, err
	}
	if callerAccountID != buyerID && callerAccountID != contractorID {
		return nil, apierr.Forbidden("caller is not a participant on this quote")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender_account_id, body, created_at FROM hire_messages WHERE quote_id = $1 AND id > $2 ORDER BY id ASC`,
		quoteID, sinceID,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "list messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if scanErr := rows.Scan(&m.ID, &m.SenderAccountID, &m.Body, &m.CreatedAt); scanErr != nil {
			return nil, apierr.Wrap(apierr.CodeInternal, "scan message", scanErr)
		}
		m.TaskID = taskID
		m.QuoteID = quoteID
		out = append(out, m)
	}
	return out, rows.Err()
}

// quoteParticipants resolves the buyer and contractor account ids for a
// quote, and verifies it belongs to taskID.
func (s *Store) quoteParticipants(ctx context.Context, taskID, quoteID string) (buyerID, contractorID, status string, err error) {
	var quoteTaskID string
	err = s.db.QueryRowContext(ctx,
		`SELECT task_id, contractor_account_id, status FROM hire_quotes WHERE id = $1`,
		quoteID,
	).Scan(&quoteTaskID, &contractorID, &status)
	if err == sql.ErrNoRows {
		return "", "", "", apierr.NotFound("quote not found")
	}
	if err != nil {
		return "", "", "", apierr.Wrap(apierr.CodeInternal, "look up quote", err)
	}
	if quoteTaskID != taskID {
		return "", "", "", apierr.InvalidRequest("quote does not belong to this task")
	}

	err = s.db.QueryRowContext(ctx, `SELECT buyer_account_id FROM hire_tasks WHERE id = $1`, taskID).Scan(&buyerID)
	if err == sql.ErrNoRows {
		return "", "", "", apierr.NotFound("task not found")
	}
	if err != nil {
		return "", "", "", apierr.Wrap(apierr.CodeInternal, "look up task", err)
	}
	return buyerID, contractorID, status, nil
}

// UpdateQuote lets the contractor revise a still-pending quote.
func (s *Store) UpdateQuote(ctx context.Context, taskID, quoteID, callerAccountID string, price *int64, description *string) (*Quote, error) {
	if price == nil && description == nil {
		return nil, apierr.InvalidRequest("at least one field must change")
	}
	if price != nil && *price <= 0 {
		return nil, apierr.InvalidRequest("price_sats must be positive")
	}

	var contractorID, quoteTaskID, status string
	var currentPrice int64
	var currentDescription string
	err := s.db.QueryRowContext(ctx,
		`SELECT task_id, contractor_account_id, price_sats, description, status FROM hire_quotes WHERE id = $1`,
		quoteID,
	).Scan(&quoteTaskID, &contractorID, &currentPrice, &currentDescription, &status)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("quote not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "look up quote", err)
	}
	if quoteTaskID != taskID {
		return nil, apierr.InvalidRequest("quote does not belong to this task")
	}
	if callerAccountID != contractorID {
		return nil, apierr.Forbidden("only the contractor can update this quote")
	}
	if status != QuotePending {
		return nil, apierr.InvalidState("quote is not pending")
	}

	newPrice := currentPrice
	if price != nil {
		newPrice = *price
	}
	newDescription := currentDescription
	if description != nil {
		newDescription = *description
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE hire_quotes SET price_sats = $1, description = $2, updated_at = now() WHERE id = $3`,
		newPrice, newDescription, quoteID,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "update quote", err)
	}
	return &Quote{ID: quoteID, TaskID: taskID, ContractorAccountID: contractorID, PriceSats: newPrice, Description: newDescription, Status: status}, nil
}

// CreateDelivery submits the contractor's work product for an in-escrow
// task and moves it to "delivered".
func (s *Store) CreateDelivery(ctx context.Context, taskID, contractorAccountID, filename, contentBase64, notes string) (*Delivery, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "begin create_delivery transaction", err)
	}
	defer tx.Rollback()

	var taskStatus string
	if scanErr := tx.QueryRowContext(ctx,
		`SELECT status FROM hire_tasks WHERE id = $1 FOR UPDATE`,
		taskID,
	).Scan(&taskStatus); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return nil, apierr.NotFound("task not found")
		}
		return nil, apierr.Wrap(apierr.CodeInternal, "lock task row", scanErr)
	}
	if taskStatus != TaskInEscrow {
		return nil, apierr.InvalidState("task is not in escrow")
	}

	var quoteID string
	if scanErr := tx.QueryRowContext(ctx,
		`SELECT id FROM hire_quotes WHERE task_id = $1 AND status = $2 AND contractor_account_id = $3`,
		taskID, QuoteAccepted, contractorAccountID,
	).Scan(&quoteID); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return nil, apierr.Forbidden("caller has no accepted quote on this task")
		}
		return nil, apierr.Wrap(apierr.CodeInternal, "look up accepted quote", scanErr)
	}

	id := "delivery_" + uuid.NewString()
	if _, execErr := tx.ExecContext(ctx,
		`INSERT INTO hire_deliveries (id, task_id, quote_id, contractor_account_id, filename, content_base64, notes) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, taskID, quoteID, contractorAccountID, filename, contentBase64, notes,
	); execErr != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "insert delivery", execErr)
	}
	if _, execErr := tx.ExecContext(ctx,
		`UPDATE hire_tasks SET status = $1, updated_at = now() WHERE id = $2`,
		TaskDelivered, taskID,
	); execErr != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "move task to delivered", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return nil, apierr.Wrap(apierr.CodeInternal, "commit create_delivery transaction", commitErr)
	}

	return &Delivery{ID: id, TaskID: taskID, QuoteID: quoteID, ContractorAccountID: contractorAccountID, Filename: filename, ContentBase64: contentBase64, Notes: notes}, nil
}

// ConfirmDelivery is the atomic escrow-release transaction (spec.md §4.9).
func (s *Store) ConfirmDelivery(ctx context.Context, taskID, callerAccountID string) (err error) {
	tx, txErr := s.db.BeginTx(ctx, nil)
	if txErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "begin confirm_delivery transaction", txErr)
	}
	defer tx.Rollback()

	var buyerAccountID, taskStatus string
	if scanErr := tx.QueryRowContext(ctx,
		`SELECT buyer_account_id, status FROM hire_tasks WHERE id = $1 FOR UPDATE`,
		taskID,
	).Scan(&buyerAccountID, &taskStatus); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return apierr.NotFound("task not found")
		}
		return apierr.Wrap(apierr.CodeInternal, "lock task row", scanErr)
	}
	if callerAccountID != buyerAccountID {
		return apierr.Forbidden("only the task's buyer can confirm delivery")
	}
	if taskStatus != TaskDelivered {
		return apierr.InvalidState("task has not been delivered")
	}

	var quoteID, contractorAccountID string
	var priceSats int64
	if scanErr := tx.QueryRowContext(ctx,
		`SELECT id, contractor_account_id, price_sats FROM hire_quotes WHERE task_id = $1 AND status = $2 FOR UPDATE`,
		taskID, QuoteAccepted,
	).Scan(&quoteID, &contractorAccountID, &priceSats); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return apierr.InvalidState("task has no accepted quote")
		}
		return apierr.Wrap(apierr.CodeInternal, "lock accepted quote row", scanErr)
	}

	if _, execErr := tx.ExecContext(ctx,
		`UPDATE accounts SET balance_sats = balance_sats + $1, updated_at = now() WHERE id = $2`,
		priceSats, contractorAccountID,
	); execErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "credit contractor account", execErr)
	}
	if _, execErr := tx.ExecContext(ctx,
		`INSERT INTO usage_log (account_id, endpoint, amount_sats) VALUES ($1, $2, $3)`,
		contractorAccountID, fmt.Sprintf("hire:escrow_release:%s", taskID), priceSats,
	); execErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "write escrow-release usage log", execErr)
	}
	if _, execErr := tx.ExecContext(ctx,
		`UPDATE hire_tasks SET status = $1, updated_at = now() WHERE id = $2`,
		TaskCompleted, taskID,
	); execErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "complete task", execErr)
	}

	var deliveryID string
	_ = tx.QueryRowContext(ctx, `SELECT id FROM hire_deliveries WHERE task_id = $1 AND quote_id = $2`, taskID, quoteID).Scan(&deliveryID)

	if commitErr := tx.Commit(); commitErr != nil {
		return apierr.Wrap(apierr.CodeInternal, "commit confirm_delivery transaction", commitErr)
	}

	if s.metrics != nil {
		s.metrics.ObserveEscrowRelease(priceSats)
	}
	if s.registry != nil {
		s.registry.EmitDeliveryConfirmed(ctx, observability.DeliveryConfirmedEvent{
			Timestamp:  time.Now(),
			TaskID:     taskID,
			DeliveryID: deliveryID,
			SellerID:   contractorAccountID,
			PriceSats:  priceSats,
		})
	}
	notifyEvent := callbacks.DeliveryConfirmedEvent{
		TaskID:     taskID,
		DeliveryID: deliveryID,
		SellerID:   contractorAccountID,
		BuyerID:    buyerAccountID,
		PriceSats:  priceSats,
	}
	callbacks.PrepareDeliveryConfirmedEvent(&notifyEvent)
	s.notifier.DeliveryConfirmed(ctx, notifyEvent)

	return nil
}
