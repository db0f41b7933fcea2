package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToken_CancelIsIdempotent(t *testing.T) {
	tok := NewToken()
	assert.False(t, tok.IsCancelled())

	tok.Cancel()
	tok.Cancel() // must not panic on double-close

	assert.True(t, tok.IsCancelled())
	assert.ErrorIs(t, tok.Err(), context.Canceled)
}

func TestToken_DoneClosesOnCancel(t *testing.T) {
	tok := NewToken()

	select {
	case <-tok.Done():
		t.Fatal("done channel closed before cancel")
	default:
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		tok.Cancel()
	}()

	select {
	case <-tok.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel never closed")
	}
}

func TestNilToken_BehavesAsUncancelled(t *testing.T) {
	var tok *Token
	assert.False(t, tok.IsCancelled())
	assert.Nil(t, tok.Err())
	assert.Nil(t, tok.Done())
	tok.Cancel() // must not panic
}
