package wallet

import (
	"testing"

	"github.com/fleetgrid/gogrid/pkg/config"
)

// bip39 标准测试助记词
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testFleetConfig(size int) config.FleetConfig {
	return config.FleetConfig{
		Size:           size,
		DerivationBase: "m/44'/60'/0'/0",
	}
}

func TestNewFleetDeterministic(t *testing.T) {
	f1, err := NewFleet(testMnemonic, testFleetConfig(3))
	if err != nil {
		t.Fatalf("NewFleet: %v", err)
	}
	f2, err := NewFleet(testMnemonic, testFleetConfig(3))
	if err != nil {
		t.Fatalf("NewFleet: %v", err)
	}

	if f1.Size() != 3 {
		t.Fatalf("Size = %d, want 3", f1.Size())
	}
	for i := range f1.Accounts() {
		a, b := f1.Accounts()[i], f2.Accounts()[i]
		if a.Address != b.Address {
			t.Fatalf("index %d 派生地址不一致: %s vs %s", i, a.Address.Hex(), b.Address.Hex())
		}
	}

	// 测试助记词的首个地址是公开已知的
	if got := f1.Accounts()[0].Address.Hex(); got != "0x9858EfFD232B4033E47d90003D41EC34EcaEda94" {
		t.Fatalf("index 0 地址 = %s", got)
	}
}

func TestNewFleetDistinctAddresses(t *testing.T) {
	f, err := NewFleet(testMnemonic, testFleetConfig(5))
	if err != nil {
		t.Fatalf("NewFleet: %v", err)
	}
	seen := make(map[string]bool)
	for _, a := range f.Accounts() {
		if seen[a.Address.Hex()] {
			t.Fatalf("地址重复: %s", a.Address.Hex())
		}
		seen[a.Address.Hex()] = true
	}
}

func TestByAddressCaseInsensitive(t *testing.T) {
	f, err := NewFleet(testMnemonic, testFleetConfig(1))
	if err != nil {
		t.Fatalf("NewFleet: %v", err)
	}
	addr := f.Accounts()[0].Address.Hex()

	if _, ok := f.ByAddress(addr); !ok {
		t.Fatal("原样地址应能命中")
	}
	if _, ok := f.ByAddress("0x9858effd232b4033e47d90003d41ec34ecaeda94"); !ok {
		t.Fatal("小写地址应能命中")
	}
}

func TestNewFleetRejectsBadInput(t *testing.T) {
	if _, err := NewFleet("", testFleetConfig(1)); err == nil {
		t.Fatal("空助记词应报错")
	}
	if _, err := NewFleet("not a valid mnemonic phrase", testFleetConfig(1)); err == nil {
		t.Fatal("非法助记词应报错")
	}
	if _, err := NewFleet(testMnemonic, testFleetConfig(0)); err == nil {
		t.Fatal("规模为 0 应报错")
	}
}
