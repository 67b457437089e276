//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/domain/ports/repository"
)

func newTestPayment(t *testing.T, studentID string, amount string, at time.Time) *model.Payment {
	t.Helper()
	req := model.PaymentRequest{
		StudentID:   studentID,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Method:      model.PaymentMethodStripe,
		Description: "course purchase",
	}
	p, err := model.NewPayment(uuid.NewString(), req, req.Amount, decimal.NewFromInt(10), at)
	if err != nil {
		t.Fatalf("NewPayment: %v", err)
	}
	return p
}

func TestPaymentRepo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	repo := NewPaymentRepo(testPool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("should save and find a payment by id", func(t *testing.T) {
		cleanup(t)
		// --- Arrange ---
		p := newTestPayment(t, "student-1", "80.00", now)
		p.Metadata = map[string]interface{}{"source": "web"}

		// --- Act ---
		if err := repo.Save(ctx, repository.NoTX, p); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, err := repo.FindByID(ctx, repository.NoTX, p.ID)

		// --- Assert ---
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.TransactionID != p.TransactionID || got.Status != model.PaymentStatusPending {
			t.Errorf("unexpected payment: %+v", got)
		}
		if !got.Amount.Equal(p.Amount) || !got.PlatformFee.Equal(decimal.RequireFromString("8")) {
			t.Errorf("amounts not persisted exactly: amount=%s fee=%s", got.Amount, got.PlatformFee)
		}
		if got.Metadata["source"] != "web" {
			t.Errorf("metadata lost: %v", got.Metadata)
		}
	})

	t.Run("should update status and keep the transaction id on re-save", func(t *testing.T) {
		cleanup(t)
		// --- Arrange ---
		p := newTestPayment(t, "student-1", "10.00", now)
		if err := repo.Save(ctx, repository.NoTX, p); err != nil {
			t.Fatalf("Save: %v", err)
		}
		originalTxn := p.TransactionID
		ref := "pi_123"
		p.ExternalRef = &ref
		p.Gateway = "stripe"
		if _, err := p.Transition(model.PaymentStatusCompleted, now.Add(time.Minute)); err != nil {
			t.Fatalf("Transition: %v", err)
		}
		p.TransactionID = "TXN-OVERWRITE"

		// --- Act ---
		if err := repo.Save(ctx, repository.NoTX, p); err != nil {
			t.Fatalf("re-Save: %v", err)
		}
		got, err := repo.FindByExternalRef(ctx, repository.NoTX, "stripe", "pi_123")

		// --- Assert ---
		if err != nil {
			t.Fatalf("FindByExternalRef: %v", err)
		}
		if got.Status != model.PaymentStatusCompleted || got.PaidAt == nil {
			t.Errorf("status not updated: %+v", got)
		}
		if got.TransactionID != originalTxn {
			t.Errorf("transaction id changed: got %s want %s", got.TransactionID, originalTxn)
		}
	})

	t.Run("should return ErrNotFound for unknown ids", func(t *testing.T) {
		cleanup(t)
		_, err := repo.FindByID(ctx, repository.NoTX, uuid.NewString())
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should reject a duplicate transaction id", func(t *testing.T) {
		cleanup(t)
		// --- Arrange ---
		a := newTestPayment(t, "student-1", "10.00", now)
		b := newTestPayment(t, "student-2", "10.00", now)
		b.TransactionID = a.TransactionID
		if err := repo.Save(ctx, repository.NoTX, a); err != nil {
			t.Fatalf("Save: %v", err)
		}

		// --- Act ---
		err := repo.Save(ctx, repository.NoTX, b)

		// --- Assert ---
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("should list a student's payments newest first", func(t *testing.T) {
		cleanup(t)
		// --- Arrange ---
		older := newTestPayment(t, "student-1", "10.00", now.Add(-time.Hour))
		newer := newTestPayment(t, "student-1", "20.00", now)
		other := newTestPayment(t, "student-2", "30.00", now)
		for _, p := range []*model.Payment{older, newer, other} {
			if err := repo.Save(ctx, repository.NoTX, p); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}

		// --- Act ---
		got, err := repo.ListByStudent(ctx, repository.NoTX, "student-1")

		// --- Assert ---
		if err != nil {
			t.Fatalf("ListByStudent: %v", err)
		}
		if len(got) != 2 || got[0].ID != newer.ID || got[1].ID != older.ID {
			t.Fatalf("unexpected order: %v", got)
		}
	})
}

func TestTxManager(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	txm := NewTxManager(testPool)
	repo := NewPaymentRepo(testPool)
	now := time.Now().UTC()

	t.Run("should roll back when the callback fails", func(t *testing.T) {
		cleanup(t)
		// --- Arrange ---
		p := newTestPayment(t, "student-1", "10.00", now)
		boom := errors.New("boom")

		// --- Act ---
		err := txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.Save(ctx, tx, p); err != nil {
				return err
			}
			return boom
		})

		// --- Assert ---
		if !errors.Is(err, boom) {
			t.Fatalf("expected callback error, got %v", err)
		}
		if _, err := repo.FindByID(ctx, repository.NoTX, p.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected rolled back payment to be absent, got %v", err)
		}
	})

	t.Run("should commit and lock rows inside a transaction", func(t *testing.T) {
		cleanup(t)
		// --- Arrange ---
		p := newTestPayment(t, "student-1", "10.00", now)

		// --- Act ---
		err := txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.Save(ctx, tx, p); err != nil {
				return err
			}
			_, err := repo.FindByID(ctx, tx, p.ID) // FOR UPDATE path
			return err
		})

		// --- Assert ---
		if err != nil {
			t.Fatalf("WithTx: %v", err)
		}
		if _, err := repo.FindByID(ctx, repository.NoTX, p.ID); err != nil {
			t.Fatalf("expected committed payment, got %v", err)
		}
	})
}
