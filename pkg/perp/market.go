package perp

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PerpMarketABI is the subset of the PerpMarket contract the terminal calls.
const PerpMarketABI = `[
  {"type":"function","name":"positions","stateMutability":"view",
   "inputs":[{"name":"trader","type":"address"}],
   "outputs":[{"name":"size","type":"int256"},{"name":"entryPrice","type":"uint256"},{"name":"margin","type":"uint256"}]},
  {"type":"function","name":"openPosition","stateMutability":"payable",
   "inputs":[{"name":"isLong","type":"bool"},{"name":"sizeDelta","type":"uint256"},{"name":"marginDelta","type":"uint256"}],
   "outputs":[]},
  {"type":"function","name":"closePosition","stateMutability":"nonpayable",
   "inputs":[{"name":"closeSizeDelta","type":"uint256"}],
   "outputs":[]}
]`

// Backend is what Market needs from a chain connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Market is a binding to a deployed PerpMarket contract.
type Market struct {
	address  common.Address
	abi      abi.ABI
	backend  Backend
	contract *bind.BoundContract
}

func NewMarket(address common.Address, backend Backend) (*Market, error) {
	parsed, err := abi.JSON(strings.NewReader(PerpMarketABI))
	if err != nil {
		return nil, fmt.Errorf("parse perp abi: %w", err)
	}
	return &Market{
		address:  address,
		abi:      parsed,
		backend:  backend,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

func (m *Market) Address() common.Address { return m.address }

// ReadPosition calls positions(owner). A zero size means no open position
// and is returned as nil.
func (m *Market) ReadPosition(ctx context.Context, owner common.Address) (*Position, error) {
	var out []interface{}
	if err := m.contract.Call(&bind.CallOpts{Context: ctx}, &out, "positions", owner); err != nil {
		return nil, fmt.Errorf("read position %s: %w", owner.Hex(), err)
	}
	if len(out) != 3 {
		return nil, fmt.Errorf("read position %s: unexpected output length %d", owner.Hex(), len(out))
	}

	size, ok1 := out[0].(*big.Int)
	entry, ok2 := out[1].(*big.Int)
	margin, ok3 := out[2].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("read position %s: malformed output %v", owner.Hex(), out)
	}

	pos := &Position{Size: size, EntryPrice: entry, Margin: margin}
	if !pos.IsOpen() {
		return nil, nil
	}
	return pos, nil
}

// OpenPosition sends openPosition(isLong, sizeDelta, marginDelta) with
// marginDelta attached as the transaction value.
func (m *Market) OpenPosition(opts *bind.TransactOpts, isLong bool, sizeDelta, marginDelta *big.Int) (*types.Transaction, error) {
	withValue := *opts
	withValue.Value = new(big.Int).Set(marginDelta)
	return m.contract.Transact(&withValue, "openPosition", isLong, sizeDelta, marginDelta)
}

// ClosePosition sends closePosition(closeSizeDelta).
func (m *Market) ClosePosition(opts *bind.TransactOpts, closeSizeDelta *big.Int) (*types.Transaction, error) {
	return m.contract.Transact(opts, "closePosition", closeSizeDelta)
}

// WaitMined blocks until tx has a receipt or ctx is done.
func (m *Market) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, m.backend, tx)
}
