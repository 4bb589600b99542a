package wallet

import (
	"context"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(ServiceConfig{DataDir: t.TempDir()})
}

func TestServiceGenerateMnemonic(t *testing.T) {
	s := newTestService(t)
	mnemonic, err := s.GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error = %v", err)
	}
	if !s.ValidateMnemonic(mnemonic) {
		t.Error("generated mnemonic should validate")
	}
}

func TestServiceHasWalletInitiallyFalse(t *testing.T) {
	s := newTestService(t)
	if s.HasWallet() {
		t.Error("HasWallet() should be false before CreateWallet")
	}
	if s.IsUnlocked() {
		t.Error("IsUnlocked() should be false before CreateWallet")
	}
}

func TestServiceCreateAndLoadWallet(t *testing.T) {
	s := newTestService(t)

	if err := s.CreateWallet(testMnemonic, "", "correct horse battery staple"); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	if !s.HasWallet() {
		t.Error("HasWallet() should be true after CreateWallet")
	}
	if !s.IsUnlocked() {
		t.Error("IsUnlocked() should be true right after CreateWallet")
	}

	addr, err := s.Address()
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}
	if len(addr) == 0 {
		t.Error("Address() should return a non-empty base58 address")
	}

	s.Lock()
	if s.IsUnlocked() {
		t.Error("IsUnlocked() should be false after Lock")
	}
	if _, err := s.Address(); err == nil {
		t.Error("Address() should fail while locked")
	}

	if err := s.LoadWallet("correct horse battery staple", ""); err != nil {
		t.Fatalf("LoadWallet() error = %v", err)
	}
	if !s.IsUnlocked() {
		t.Error("IsUnlocked() should be true after LoadWallet")
	}

	addr2, err := s.Address()
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}
	if addr != addr2 {
		t.Errorf("address changed across lock/unload round-trip: %q != %q", addr, addr2)
	}
}

func TestServiceCreateWalletInvalidMnemonic(t *testing.T) {
	s := newTestService(t)
	if err := s.CreateWallet("not a mnemonic", "", "correct horse battery staple"); err == nil {
		t.Error("expected error for invalid mnemonic")
	}
}

func TestServiceCreateWalletWeakPassword(t *testing.T) {
	s := newTestService(t)
	if err := s.CreateWallet(testMnemonic, "", "weak"); err == nil {
		t.Error("expected error for weak password")
	}
}

func TestServiceLoadWalletWrongPassword(t *testing.T) {
	s := newTestService(t)
	if err := s.CreateWallet(testMnemonic, "", "correct horse battery staple"); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	s.Lock()

	if err := s.LoadWallet("wrong password entirely", ""); err == nil {
		t.Error("expected error for wrong password")
	}
}

func TestServicePublicKeyLocked(t *testing.T) {
	s := newTestService(t)
	if _, err := s.PublicKey(); err == nil {
		t.Error("PublicKey() should fail while locked")
	}
}

func TestServiceGetBalanceNoRPC(t *testing.T) {
	s := newTestService(t)
	if err := s.CreateWallet(testMnemonic, "", "correct horse battery staple"); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}
	if _, err := s.GetBalance(context.Background()); err == nil {
		t.Error("expected error when no rpc client is configured")
	}
}
