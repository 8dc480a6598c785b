package kiso

import (
	"errors"
	"testing"
)

func TestErrAllocatorExhaustedIsMatchableViaErrorsIs(t *testing.T) {
	wrapped := errors.New("moving entity: " + ErrAllocatorExhausted.Error())
	if errors.Is(wrapped, ErrAllocatorExhausted) {
		t.Fatal("a merely string-concatenated error must not satisfy errors.Is (sanity check on this test itself)")
	}
	rewrapped := errorsJoinLike(ErrAllocatorExhausted)
	if !errors.Is(rewrapped, ErrAllocatorExhausted) {
		t.Fatal("ErrAllocatorExhausted must remain matchable through errors.Is when properly wrapped")
	}
}

func errorsJoinLike(err error) error {
	return errors.Join(err)
}
