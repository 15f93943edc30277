package factory

import (
	"context"
	"sync"

	"linkdrop/services/linkdrop"
)

// Fake is an in-memory factory for local runs and tests. It creates any
// account id not seen before.
type Fake struct {
	mu       sync.Mutex
	accounts map[string]linkdrop.CreateAccountRequest
}

var _ linkdrop.AccountFactory = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{accounts: map[string]linkdrop.CreateAccountRequest{}}
}

func (f *Fake) CreateAccount(ctx context.Context, req linkdrop.CreateAccountRequest) (linkdrop.FactoryResult, error) {
	if err := ctx.Err(); err != nil {
		return linkdrop.FactoryResult{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.accounts[req.NewAccountID]; ok {
		return linkdrop.FactoryResult{Succeeded: false, Reason: "account already exists"}, nil
	}
	f.accounts[req.NewAccountID] = req
	return linkdrop.FactoryResult{Succeeded: true}, nil
}

// Account returns the request that created id.
func (f *Fake) Account(id string) (linkdrop.CreateAccountRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.accounts[id]
	return req, ok
}
