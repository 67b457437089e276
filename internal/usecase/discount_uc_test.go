//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"lms-payments/internal/config"
	"lms-payments/internal/domain"
	"lms-payments/internal/domain/model"
	"lms-payments/internal/usecase"
)

func TestDiscountUseCase_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("should normalize the code and default the per-user cap", func(t *testing.T) {
		f := newFixture(NewMockTxManager())

		d, err := f.discountUC.Create(ctx, usecase.CreateDiscountInput{
			Code: " save20 ", Type: model.DiscountTypePercentage, Value: dec("20"),
			StartDate: time.Now(), EndDate: time.Now().Add(time.Hour),
		})

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Code != "SAVE20" || d.MaxUsesPerUser != 1 || d.UsesCount != 0 {
			t.Errorf("unexpected discount: %+v", d)
		}
	})

	t.Run("should reject a duplicate code", func(t *testing.T) {
		f := newFixture(NewMockTxManager())
		f.seedDiscount(t, "SAVE20", model.DiscountTypePercentage, "20", nil, 1)

		_, err := f.discountUC.Create(ctx, usecase.CreateDiscountInput{
			Code: "SAVE20", Type: model.DiscountTypeFixedAmount, Value: dec("5"),
			StartDate: time.Now(), EndDate: time.Now().Add(time.Hour),
		})

		if !errors.Is(err, domain.ErrDiscount) || !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected duplicate discount error, got %v", err)
		}
	})

	t.Run("should reject malformed definitions", func(t *testing.T) {
		f := newFixture(NewMockTxManager())
		now := time.Now()
		cases := []usecase.CreateDiscountInput{
			{Code: "", Type: model.DiscountTypePercentage, Value: dec("10"), StartDate: now, EndDate: now.Add(time.Hour)},
			{Code: "X", Type: model.DiscountTypePercentage, Value: dec("150"), StartDate: now, EndDate: now.Add(time.Hour)},
			{Code: "X", Type: model.DiscountTypeFixedAmount, Value: dec("0"), StartDate: now, EndDate: now.Add(time.Hour)},
			{Code: "X", Type: model.DiscountTypeFixedAmount, Value: dec("5"), StartDate: now, EndDate: now},
			{Code: "X", Type: "BOGO", Value: dec("5"), StartDate: now, EndDate: now.Add(time.Hour)},
		}
		for _, in := range cases {
			if _, err := f.discountUC.Create(ctx, in); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("%+v: expected validation error, got %v", in, err)
			}
		}
	})
}

func TestDiscountUseCase_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("should compute percentage and fixed amounts", func(t *testing.T) {
		f := newFixture(NewMockTxManager())
		f.seedDiscount(t, "PCT", model.DiscountTypePercentage, "12.5", nil, 5)
		f.seedDiscount(t, "FIX", model.DiscountTypeFixedAmount, "30", nil, 5)

		pct, err1 := f.discountUC.Apply(ctx, "PCT", dec("9.99"), "USD", "o1")
		fix, err2 := f.discountUC.Apply(ctx, "fix", dec("100"), "USD", "o1")

		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors: %v, %v", err1, err2)
		}
		if !pct.FinalAmount.Equal(dec("8.74")) {
			t.Errorf("expected 8.74, got %s", pct.FinalAmount)
		}
		if !fix.FinalAmount.Equal(dec("70")) {
			t.Errorf("expected 70, got %s", fix.FinalAmount)
		}
	})

	t.Run("should fail for unknown, future and expired codes", func(t *testing.T) {
		f := newFixture(NewMockTxManager())
		now := time.Now()
		_, _ = f.discountUC.Create(ctx, usecase.CreateDiscountInput{Code: "SOON", Type: model.DiscountTypeFixedAmount, Value: dec("1"), StartDate: now.Add(time.Hour), EndDate: now.Add(2 * time.Hour)})
		_, _ = f.discountUC.Create(ctx, usecase.CreateDiscountInput{Code: "OLD", Type: model.DiscountTypeFixedAmount, Value: dec("1"), StartDate: now.Add(-2 * time.Hour), EndDate: now.Add(-time.Hour)})

		for _, code := range []string{"MISSING", "SOON", "OLD"} {
			if _, err := f.discountUC.Apply(ctx, code, dec("10"), "USD", "o-"+code); !errors.Is(err, domain.ErrDiscount) {
				t.Errorf("%s: expected discount error, got %v", code, err)
			}
		}
	})

	t.Run("should allow at most maxUses applications under concurrency", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(NewMockTxManager())
		f.seedDiscount(t, "LIMITED", model.DiscountTypePercentage, "10", intPtr(3), 1)

		// --- Act ---
		var wg sync.WaitGroup
		var mu sync.Mutex
		ok, rejected := 0, 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.discountUC.Apply(ctx, "LIMITED", dec("50"), "USD", fmt.Sprintf("owner-%d", i))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if errors.Is(err, domain.ErrDiscount) {
					rejected++
				}
			}(i)
		}
		wg.Wait()

		// --- Assert ---
		if ok != 3 || rejected != 17 {
			t.Fatalf("expected 3 applied and 17 rejected, got %d and %d", ok, rejected)
		}
		if f.discounts.Uses("LIMITED") != 3 {
			t.Errorf("expected uses_count 3, got %d", f.discounts.Uses("LIMITED"))
		}
	})

	t.Run("should enforce the per-user cap", func(t *testing.T) {
		f := newFixture(NewMockTxManager())
		f.seedDiscount(t, "ONCE", model.DiscountTypePercentage, "10", nil, 1)

		_, err1 := f.discountUC.Apply(ctx, "ONCE", dec("50"), "USD", "owner-1")
		_, err2 := f.discountUC.Apply(ctx, "ONCE", dec("50"), "USD", "owner-1")
		_, err3 := f.discountUC.Apply(ctx, "ONCE", dec("50"), "USD", "owner-2")

		if err1 != nil || err3 != nil {
			t.Fatalf("unexpected errors: %v, %v", err1, err3)
		}
		if !errors.Is(err2, domain.ErrDiscount) {
			t.Fatalf("expected discount error on second use, got %v", err2)
		}
		if f.discounts.Uses("ONCE") != 2 {
			t.Errorf("expected 2 uses, got %d", f.discounts.Uses("ONCE"))
		}
	})

	t.Run("should throttle repeated attempts per owner", func(t *testing.T) {
		f := newFixture(NewMockTxManager())

		var err error
		for i := 0; i < 6; i++ {
			_, err = f.discountUC.Apply(ctx, "GUESS", dec("10"), "USD", "owner-1")
		}

		if !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("expected rate limit on the sixth attempt, got %v", err)
		}
	})

	t.Run("should not block when the limiter is down", func(t *testing.T) {
		limiter := &MockLimiter{Err: errBoom}
		repo := NewMockDiscountRepo()
		uc := usecase.NewDiscountUseCase(repo, NewMockTxManager(), limiter, config.DiscountConfig{AttemptLimit: 1, AttemptWindow: time.Minute}, newTestLogger())
		_, _ = uc.Create(ctx, usecase.CreateDiscountInput{Code: "OK", Type: model.DiscountTypeFixedAmount, Value: dec("1"), StartDate: time.Now().Add(-time.Minute), EndDate: time.Now().Add(time.Hour)})

		out, err := uc.Apply(ctx, "OK", dec("10"), "USD", "owner-1")

		if err != nil || !out.FinalAmount.Equal(dec("9")) {
			t.Fatalf("expected 9, got %v, %v", out, err)
		}
	})
}

func TestDiscountUseCase_Preview(t *testing.T) {
	ctx := context.Background()

	t.Run("should price the amount without consuming a use", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture(NewMockTxManager())
		f.seedDiscount(t, "SAVE20", model.DiscountTypePercentage, "20", intPtr(1), 1)

		// --- Act ---
		first, err1 := f.discountUC.Preview(ctx, " save20 ", dec("100.00"), "usd", "owner-1")
		second, err2 := f.discountUC.Preview(ctx, "SAVE20", dec("100.00"), "USD", "owner-1")

		// --- Assert ---
		if err1 != nil || err2 != nil {
			t.Fatalf("unexpected errors: %v, %v", err1, err2)
		}
		if !first.FinalAmount.Equal(dec("80")) || first.Currency != "USD" || !second.FinalAmount.Equal(first.FinalAmount) {
			t.Errorf("unexpected quotes: %+v / %+v", first, second)
		}
		if f.discounts.Uses("SAVE20") != 0 {
			t.Errorf("preview must not consume a use, got %d", f.discounts.Uses("SAVE20"))
		}
		if _, err := f.discountUC.Apply(ctx, "SAVE20", dec("100.00"), "USD", "owner-1"); err != nil {
			t.Fatalf("the last use must still be redeemable: %v", err)
		}
	})

	t.Run("should reject codes the owner can no longer redeem", func(t *testing.T) {
		f := newFixture(NewMockTxManager())
		f.seedDiscount(t, "ONCE", model.DiscountTypeFixedAmount, "5", intPtr(10), 1)
		if _, err := f.discountUC.Apply(ctx, "ONCE", dec("50"), "USD", "owner-1"); err != nil {
			t.Fatalf("failed to redeem: %v", err)
		}

		_, err1 := f.discountUC.Preview(ctx, "ONCE", dec("50"), "USD", "owner-1")
		other, err2 := f.discountUC.Preview(ctx, "ONCE", dec("50"), "USD", "owner-2")

		if !errors.Is(err1, domain.ErrDiscount) {
			t.Fatalf("expected per-user cap error, got %v", err1)
		}
		if err2 != nil || !other.FinalAmount.Equal(dec("45")) {
			t.Fatalf("expected 45 for another owner, got %v, %v", other, err2)
		}
	})

	t.Run("should validate input and unknown codes", func(t *testing.T) {
		f := newFixture(NewMockTxManager())

		_, errAmount := f.discountUC.Preview(ctx, "X", dec("0"), "USD", "owner-1")
		_, errOwner := f.discountUC.Preview(ctx, "X", dec("10"), "USD", "")
		_, errMissing := f.discountUC.Preview(ctx, "NOPE", dec("10"), "USD", "owner-1")

		if !errors.Is(errAmount, domain.ErrValidation) || !errors.Is(errOwner, domain.ErrValidation) {
			t.Errorf("expected validation errors, got %v, %v", errAmount, errOwner)
		}
		if !errors.Is(errMissing, domain.ErrDiscount) {
			t.Errorf("expected discount error for an unknown code, got %v", errMissing)
		}
	})
}
