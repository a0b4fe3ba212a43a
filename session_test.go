// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package amm

import (
	"bytes"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func payExactly(amount *big.Int) PayFunc {
	return func(Currency) (*big.Int, error) {
		return new(big.Int).Set(amount), nil
	}
}

func TestLockSettlesEmptySession(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()

	result, err := pm.Lock(db, testAddr(0x11), func(sessionID uint64) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	if !bytes.Equal(result, []byte("ok")) {
		t.Errorf("result mismatch: got %q, want %q", result, "ok")
	}
}

func TestLockRejectsUnsettledDebt(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	owner := testAddr(0x11)
	currency := Currency{Address: testAddr(1)}

	_, err := pm.Lock(db, owner, func(sessionID uint64) ([]byte, error) {
		// Saving without paying leaves the session owing the engine.
		return nil, pm.Save(db, owner, currency, [32]byte{}, big.NewInt(100))
	})
	if !errors.Is(err, ErrNonZeroDelta) {
		t.Fatalf("error mismatch: got %v, want %v", err, ErrNonZeroDelta)
	}

	// The abort must have unwound the saved balance write.
	if got := pm.GetSavedBalance(db, owner, currency, [32]byte{}); got.Sign() != 0 {
		t.Errorf("saved balance after revert mismatch: got %v, want 0", got)
	}
}

func TestPayAndWithdrawSettle(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	owner := testAddr(0x11)
	currency := Currency{Address: testAddr(1)}

	_, err := pm.Lock(db, owner, func(sessionID uint64) ([]byte, error) {
		credited, err := pm.Pay(db, currency, payExactly(big.NewInt(500)))
		if err != nil {
			return nil, err
		}
		if credited.Cmp(big.NewInt(500)) != 0 {
			t.Errorf("credited mismatch: got %v, want 500", credited)
		}

		delta, err := pm.GetDelta(currency)
		if err != nil {
			return nil, err
		}
		if delta.Cmp(big.NewInt(-500)) != 0 {
			t.Errorf("delta after pay mismatch: got %v, want -500", delta)
		}

		return nil, pm.Withdraw(db, currency, owner, big.NewInt(500))
	})
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}

	if r := loadReserve(db, currency); r.Sign() != 0 {
		t.Errorf("reserve mismatch after round trip: got %v, want 0", r)
	}
}

func TestWithdrawExceedsReserves(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	currency := Currency{Address: testAddr(1)}

	_, err := pm.Lock(db, testAddr(0x11), func(sessionID uint64) ([]byte, error) {
		if _, err := pm.Pay(db, currency, payExactly(big.NewInt(10))); err != nil {
			return nil, err
		}
		return nil, pm.Withdraw(db, currency, testAddr(0x11), big.NewInt(11))
	})
	if !errors.Is(err, ErrInsufficientReserves) {
		t.Errorf("error mismatch: got %v, want %v", err, ErrInsufficientReserves)
	}
}

// Native currency is measured by the engine's balance increase, not by the
// callback's claim.
func TestNativePayAndWithdraw(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	owner := testAddr(0x11)
	recipient := testAddr(0x22)

	_, err := pm.Lock(db, owner, func(sessionID uint64) ([]byte, error) {
		credited, err := pm.Pay(db, NativeCurrency, func(Currency) (*big.Int, error) {
			db.AddBalance(engineAddr, uint256.NewInt(750))
			return nil, nil
		})
		if err != nil {
			return nil, err
		}
		if credited.Cmp(big.NewInt(750)) != 0 {
			t.Errorf("credited mismatch: got %v, want 750", credited)
		}
		return nil, pm.Withdraw(db, NativeCurrency, recipient, big.NewInt(750))
	})
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}

	if got := db.GetBalance(recipient); !got.Eq(uint256.NewInt(750)) {
		t.Errorf("recipient balance mismatch: got %v, want 750", got)
	}
	if got := db.GetBalance(engineAddr); !got.IsZero() {
		t.Errorf("engine balance mismatch: got %v, want 0", got)
	}
}

func TestNestedSessions(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	currency := Currency{Address: testAddr(1)}
	outer := testAddr(0x11)
	inner := testAddr(0x22)

	var outerID, innerID uint64
	_, err := pm.Lock(db, outer, func(sessionID uint64) ([]byte, error) {
		outerID = sessionID
		_, err := pm.Lock(db, inner, func(sessionID uint64) ([]byte, error) {
			innerID = sessionID
			if _, err := pm.Pay(db, currency, payExactly(big.NewInt(50))); err != nil {
				return nil, err
			}
			return nil, pm.Withdraw(db, currency, inner, big.NewInt(50))
		})
		return nil, err
	})
	if err != nil {
		t.Fatalf("Lock error: %v", err)
	}
	if innerID <= outerID {
		t.Errorf("session ids not increasing: outer %d, inner %d", outerID, innerID)
	}
}

// Only the goroutine that owns the open session may nest; a Lock from any
// other goroutine waits for the session to finish and runs as its own
// top-level entry.
func TestConcurrentLockWaitsForOpenSession(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()

	firstOpen := make(chan struct{})
	second := make(chan uint64, 1)
	done := make(chan error, 1)

	go func() {
		<-firstOpen
		_, err := pm.Lock(db, testAddr(0x22), func(sessionID uint64) ([]byte, error) {
			second <- sessionID
			return nil, nil
		})
		done <- err
	}()

	var firstID uint64
	_, err := pm.Lock(db, testAddr(0x11), func(sessionID uint64) ([]byte, error) {
		firstID = sessionID
		close(firstOpen)
		select {
		case id := <-second:
			t.Errorf("second goroutine entered the open session: id %d", id)
		case <-time.After(50 * time.Millisecond):
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("first session error: %v", err)
	}

	select {
	case id := <-second:
		if id == firstID {
			t.Errorf("session id reused across entries: %d", id)
		}
	case <-time.After(time.Second):
		t.Fatal("second session never ran")
	}
	if err := <-done; err != nil {
		t.Errorf("second session error: %v", err)
	}
}

// A swallowed inner failure still poisons the outer session.
func TestNestedSessionAbortPropagates(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	innerErr := errors.New("inner failure")

	_, err := pm.Lock(db, testAddr(0x11), func(sessionID uint64) ([]byte, error) {
		_, _ = pm.Lock(db, testAddr(0x22), func(sessionID uint64) ([]byte, error) {
			return nil, innerErr
		})
		return nil, nil // swallow
	})
	if !errors.Is(err, ErrSessionAborted) {
		t.Errorf("error mismatch: got %v, want %v", err, ErrSessionAborted)
	}
}

func TestSaveAndLoadAcrossSessions(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	owner := testAddr(0x11)
	currency := Currency{Address: testAddr(1)}
	salt := [32]byte{0x01}

	_, err := pm.Lock(db, owner, func(sessionID uint64) ([]byte, error) {
		if _, err := pm.Pay(db, currency, payExactly(big.NewInt(300))); err != nil {
			return nil, err
		}
		return nil, pm.Save(db, owner, currency, salt, big.NewInt(300))
	})
	if err != nil {
		t.Fatalf("save session error: %v", err)
	}
	if got := pm.GetSavedBalance(db, owner, currency, salt); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("saved balance mismatch: got %v, want 300", got)
	}

	_, err = pm.Lock(db, owner, func(sessionID uint64) ([]byte, error) {
		if err := pm.Load(db, owner, currency, salt, big.NewInt(300)); err != nil {
			return nil, err
		}
		return nil, pm.Withdraw(db, currency, owner, big.NewInt(300))
	})
	if err != nil {
		t.Fatalf("load session error: %v", err)
	}
	if got := pm.GetSavedBalance(db, owner, currency, salt); got.Sign() != 0 {
		t.Errorf("saved balance after load mismatch: got %v, want 0", got)
	}
}

func TestLoadRequiresOwner(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	owner := testAddr(0x11)
	thief := testAddr(0x22)
	currency := Currency{Address: testAddr(1)}

	_, err := pm.Lock(db, owner, func(sessionID uint64) ([]byte, error) {
		if _, err := pm.Pay(db, currency, payExactly(big.NewInt(100))); err != nil {
			return nil, err
		}
		return nil, pm.Save(db, owner, currency, [32]byte{}, big.NewInt(100))
	})
	if err != nil {
		t.Fatalf("save session error: %v", err)
	}

	_, err = pm.Lock(db, thief, func(sessionID uint64) ([]byte, error) {
		return nil, pm.Load(db, owner, currency, [32]byte{}, big.NewInt(100))
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error mismatch: got %v, want %v", err, ErrUnauthorized)
	}
}

func TestLoadExceedsSavedBalance(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	owner := testAddr(0x11)
	currency := Currency{Address: testAddr(1)}

	_, err := pm.Lock(db, owner, func(sessionID uint64) ([]byte, error) {
		return nil, pm.Load(db, owner, currency, [32]byte{}, big.NewInt(1))
	})
	if !errors.Is(err, ErrInsufficientSaved) {
		t.Errorf("error mismatch: got %v, want %v", err, ErrInsufficientSaved)
	}
}

func TestSettlementRequiresSession(t *testing.T) {
	pm := NewPoolManager()
	db := NewMockStateDB()
	currency := Currency{Address: testAddr(1)}

	if _, err := pm.Pay(db, currency, payExactly(big.NewInt(1))); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Pay error mismatch: got %v, want %v", err, ErrNoActiveSession)
	}
	if err := pm.Withdraw(db, currency, testAddr(0x11), big.NewInt(1)); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Withdraw error mismatch: got %v, want %v", err, ErrNoActiveSession)
	}
	if err := pm.Save(db, testAddr(0x11), currency, [32]byte{}, big.NewInt(1)); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Save error mismatch: got %v, want %v", err, ErrNoActiveSession)
	}
	if err := pm.Load(db, testAddr(0x11), currency, [32]byte{}, big.NewInt(1)); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("Load error mismatch: got %v, want %v", err, ErrNoActiveSession)
	}
	if _, err := pm.GetDelta(currency); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("GetDelta error mismatch: got %v, want %v", err, ErrNoActiveSession)
	}
}
