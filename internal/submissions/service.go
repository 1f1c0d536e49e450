// Package submissions records contact-form leads and summarizes them for the
// admin dashboard.
package submissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"kiritara/api/internal/email"
	"kiritara/api/internal/store"
)

// HighValueMarker is the amount bracket counted as a high value lead.
const HighValueMarker = "$5M+"

var ErrInvalid = errors.New("invalid submission")

// Input is the public contact form.
type Input struct {
	FullName         string `json:"fullName"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	InvestmentAmount string `json:"investmentAmount"`
	Timeline         string `json:"timeline"`
	Message          string `json:"message"`
}

type Submission struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	Phone              string    `json:"phone"`
	Message            string    `json:"message"`
	InvestmentInterest string    `json:"investment_interest"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
}

type Stats struct {
	Total          int `json:"total"`
	ThisMonth      int `json:"this_month"`
	HighValueLeads int `json:"high_value_leads"`
}

type Store interface {
	InsertSubmission(ctx context.Context, item store.Submission) (store.Submission, error)
	ListSubmissions(ctx context.Context, limit int) ([]store.Submission, error)
	SubmissionStats(ctx context.Context, monthStart time.Time, highValueMarker string) (store.SubmissionStats, error)
}

type Notifier interface {
	SendLeadNotice(to []string, lead email.LeadData) error
}

type Service struct {
	store    Store
	notifier Notifier
	leadsTo  []string
	now      func() time.Time
}

// NewService wires the lead store. notifier may be nil, in which case no
// notice is sent.
func NewService(st Store, notifier Notifier, leadsTo []string) *Service {
	return &Service{store: st, notifier: notifier, leadsTo: leadsTo, now: time.Now}
}

// Submit validates and stores a lead, then emails the sales inbox. A failed
// notice is logged; the lead is already saved.
func (s *Service) Submit(ctx context.Context, in Input) (Submission, error) {
	in = trimInput(in)
	if err := validate(&in); err != nil {
		return Submission{}, err
	}

	row, err := s.store.InsertSubmission(ctx, store.Submission{
		Name:               in.FullName,
		Email:              in.Email,
		Phone:              in.Phone,
		Message:            in.Message,
		InvestmentInterest: in.InvestmentAmount + " - " + in.Timeline,
		Status:             "new",
	})
	if err != nil {
		slog.Error("save submission", "error", err)
		return Submission{}, fmt.Errorf("%w: %w", store.ErrWrite, err)
	}
	out := fromRow(row)

	if s.notifier != nil && len(s.leadsTo) > 0 {
		err := s.notifier.SendLeadNotice(s.leadsTo, email.LeadData{
			Name:               out.Name,
			Email:              out.Email,
			Phone:              out.Phone,
			InvestmentInterest: out.InvestmentInterest,
			Message:            out.Message,
			ReceivedAt:         out.CreatedAt,
		})
		if err != nil {
			slog.Warn("send lead notice", "submission", out.ID, "error", err)
		}
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]Submission, error) {
	rows, err := s.store.ListSubmissions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrFetch, err)
	}
	out := make([]Submission, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromRow(row))
	}
	return out, nil
}

// Stats counts all leads, leads since the first of the current month and
// leads in the top amount bracket.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	stats, err := s.store.SubmissionStats(ctx, monthStart, HighValueMarker)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", store.ErrFetch, err)
	}
	return Stats{Total: stats.Total, ThisMonth: stats.ThisMonth, HighValueLeads: stats.HighValueLeads}, nil
}

func trimInput(in Input) Input {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.InvestmentAmount = strings.TrimSpace(in.InvestmentAmount)
	in.Timeline = strings.TrimSpace(in.Timeline)
	in.Message = strings.TrimSpace(in.Message)
	return in
}

// validate checks required fields and reduces the email to its bare address.
func validate(in *Input) error {
	missing := make([]string, 0)
	required := []struct {
		name  string
		value string
	}{
		{"fullName", in.FullName},
		{"email", in.Email},
		{"phone", in.Phone},
		{"investmentAmount", in.InvestmentAmount},
		{"timeline", in.Timeline},
	}
	for _, field := range required {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	addr, err := mail.ParseAddress(in.Email)
	if err != nil {
		return fmt.Errorf("%w: email is not valid", ErrInvalid)
	}
	in.Email = addr.Address
	return nil
}

func fromRow(row store.Submission) Submission {
	return Submission{
		ID:                 row.ID,
		Name:               row.Name,
		Email:              row.Email,
		Phone:              row.Phone,
		Message:            row.Message,
		InvestmentInterest: row.InvestmentInterest,
		Status:             row.Status,
		CreatedAt:          row.CreatedAt,
	}
}
