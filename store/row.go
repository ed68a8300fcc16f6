package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/sebdeveloper6952/gobuffet/domain"
)

// Columns lists the job table columns in the order Row.Values and scanners
// use them.
var Columns = []string{
	"paymentHash",
	"service",
	"price",
	"user",
	"invoiceJSON",
	"requestJSON",
	"responseJSON",
	"tempFileJSON",
	"paid",
	"state",
	"message",
	"tries",
	"createdTimestamp",
	"paidTimestamp",
	"lastUpdatedTimestamp",
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidTableName guards table names that are interpolated into SQL.
func ValidTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("bad table name %q", name)
	}
	return nil
}

// Row is the flat column representation shared by the SQL stores. Booleans
// and prices are integers, JSON values are text, timestamps are unix millis.
type Row struct {
	PaymentHash  string
	Service      string
	Price        int64
	User         string
	InvoiceJSON  string
	RequestJSON  string
	ResponseJSON string
	TempFileJSON string
	Paid         int64
	State        string
	Message      string
	Tries        int64
	Created      int64
	PaidAt       int64
	LastUpdated  int64
}

// Dest returns pointers to the row fields in Columns order, for Scan.
func (r *Row) Dest() []any {
	return []any{
		&r.PaymentHash,
		&r.Service,
		&r.Price,
		&r.User,
		&r.InvoiceJSON,
		&r.RequestJSON,
		&r.ResponseJSON,
		&r.TempFileJSON,
		&r.Paid,
		&r.State,
		&r.Message,
		&r.Tries,
		&r.Created,
		&r.PaidAt,
		&r.LastUpdated,
	}
}

// Values returns the row fields in Columns order.
func (r *Row) Values() []any {
	return []any{
		r.PaymentHash,
		r.Service,
		r.Price,
		r.User,
		r.InvoiceJSON,
		r.RequestJSON,
		r.ResponseJSON,
		r.TempFileJSON,
		r.Paid,
		r.State,
		r.Message,
		r.Tries,
		r.Created,
		r.PaidAt,
		r.LastUpdated,
	}
}

func ToRow(j *domain.Job) (*Row, error) {
	r := &Row{
		PaymentHash:  j.PaymentHash,
		Service:      j.Service,
		Price:        j.PriceMsat,
		User:         j.Owner,
		InvoiceJSON:  string(j.Invoice),
		RequestJSON:  string(j.Request),
		ResponseJSON: string(j.Response),
		State:        string(j.State),
		Message:      j.LastError,
		Tries:        int64(j.RemainingTries),
		Created:      toMillis(j.CreatedAt),
		PaidAt:       toMillis(j.PaidAt),
		LastUpdated:  toMillis(j.UpdatedAt),
	}
	if j.Paid {
		r.Paid = 1
	}
	if j.Asset != nil {
		b, err := json.Marshal(j.Asset)
		if err != nil {
			return nil, fmt.Errorf("encode asset: %w", err)
		}
		r.TempFileJSON = string(b)
	}
	return r, nil
}

func FromRow(r *Row) (*domain.Job, error) {
	state := domain.State(r.State)
	if !state.Valid() {
		return nil, fmt.Errorf("job %s: unknown state %q", r.PaymentHash, r.State)
	}

	j := &domain.Job{
		PaymentHash:    r.PaymentHash,
		Service:        r.Service,
		PriceMsat:      r.Price,
		Owner:          r.User,
		Invoice:        rawOrNil(r.InvoiceJSON),
		Request:        rawOrNil(r.RequestJSON),
		Response:       rawOrNil(r.ResponseJSON),
		Paid:           r.Paid != 0,
		State:          state,
		LastError:      r.Message,
		RemainingTries: int(r.Tries),
		CreatedAt:      fromMillis(r.Created),
		PaidAt:         fromMillis(r.PaidAt),
		UpdatedAt:      fromMillis(r.LastUpdated),
	}
	if r.TempFileJSON != "" {
		a := &domain.Asset{}
		if err := json.Unmarshal([]byte(r.TempFileJSON), a); err != nil {
			return nil, fmt.Errorf("job %s: decode asset: %w", r.PaymentHash, err)
		}
		j.Asset = a
	}
	return j, nil
}

func rawOrNil(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ColumnList returns the quoted, comma separated column list.
func ColumnList() string {
	return quoteJoin(Columns)
}

func quoteJoin(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += `"` + c + `"`
	}
	return out
}
