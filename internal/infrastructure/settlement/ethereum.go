package settlement

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"trustmarket/internal/config"
	"trustmarket/internal/service"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// 托管合约对外暴露的最小 ABI
const escrowABI = `[
	{"type":"function","name":"createEscrow","inputs":[{"name":"orderId","type":"string"},{"name":"seller","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"metadataRef","type":"string"},{"name":"releaseAfter","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"release","inputs":[{"name":"escrow","type":"address"}],"outputs":[]},
	{"type":"function","name":"dispute","inputs":[{"name":"escrow","type":"address"},{"name":"reason","type":"string"}],"outputs":[]},
	{"type":"function","name":"escrowOf","inputs":[{"name":"orderId","type":"string"}],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"getDetails","inputs":[{"name":"escrow","type":"address"}],"outputs":[{"name":"status","type":"uint8"},{"name":"balance","type":"uint256"},{"name":"buyer","type":"address"},{"name":"seller","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"stateMutability":"view"}
]`

const erc20ABI = `[
	{"type":"function","name":"balanceOf","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"}
]`

var escrowStatusNames = map[uint8]string{
	0: "created",
	1: "released",
	2: "disputed",
	3: "refunded",
}

// EthereumBackend SettlementBackend 的链上实现
// 每次调用都等待交易上链（WaitMined），并在调用方 ctx 之上
// 叠加配置的 call_timeout_seconds，超时按失败处理
type EthereumBackend struct {
	client      *ethclient.Client
	contract    *bind.BoundContract
	erc20       abi.ABI
	auth        *bind.TransactOpts
	callTimeout time.Duration
	tokens      map[string]common.Address // 代币符号 -> 合约地址
}

var _ service.SettlementBackend = (*EthereumBackend)(nil)

// NewEthereumBackend 初始化链上结算后端
func NewEthereumBackend(cfg *config.SettlementConfig) (*EthereumBackend, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("连接链上 RPC 失败: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析结算私钥失败: %w", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("创建交易签名器失败: %w", err)
	}

	parsedEscrow, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("解析托管合约 ABI 失败: %w", err)
	}

	parsedERC20, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析 ERC20 ABI 失败: %w", err)
	}

	tokens := make(map[string]common.Address, len(cfg.Tokens))
	for symbol, addr := range cfg.Tokens {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("代币 %s 的合约地址不合法: %s", symbol, addr)
		}
		tokens[strings.ToUpper(symbol)] = common.HexToAddress(addr)
	}

	contract := bind.NewBoundContract(
		common.HexToAddress(cfg.ContractAddress),
		parsedEscrow,
		client, client, client,
	)

	log.Printf("链上结算后端初始化成功: contract=%s, chainID=%d", cfg.ContractAddress, cfg.ChainID)

	return &EthereumBackend{
		client:      client,
		contract:    contract,
		erc20:       parsedERC20,
		auth:        auth,
		callTimeout: cfg.CallTimeout(),
		tokens:      tokens,
	}, nil
}

// toUnits 代币金额 -> 链上整数，统一按 6 位小数换算（USDC/USDT 口径）
func toUnits(amount float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e6))
	units, _ := scaled.Int(nil)
	return units
}

// fromUnits 链上整数 -> 代币金额
func fromUnits(units *big.Int) float64 {
	if units == nil {
		return 0
	}
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(units), big.NewFloat(1e6)).Float64()
	return value
}

func (b *EthereumBackend) tokenAddress(symbol string) (common.Address, error) {
	addr, ok := b.tokens[strings.ToUpper(symbol)]
	if !ok {
		return common.Address{}, fmt.Errorf("不支持的代币: %s", symbol)
	}
	return addr, nil
}

// CreateEscrow 建立链上托管
func (b *EthereumBackend) CreateEscrow(ctx context.Context, orderNo, sellerAddr, tokenSymbol string, amount float64, metadataRef string, releaseAfterSeconds int64) (*service.SettlementResult, error) {
	if !common.IsHexAddress(sellerAddr) {
		return &service.SettlementResult{Success: false, ErrMessage: "卖家钱包地址不合法"}, nil
	}

	tokenAddr, err := b.tokenAddress(tokenSymbol)
	if err != nil {
		return &service.SettlementResult{Success: false, ErrMessage: err.Error()}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	opts := *b.auth
	opts.Context = ctx

	tx, err := b.contract.Transact(&opts, "createEscrow",
		orderNo,
		common.HexToAddress(sellerAddr),
		tokenAddr,
		toUnits(amount),
		metadataRef,
		big.NewInt(releaseAfterSeconds),
	)
	if err != nil {
		return &service.SettlementResult{Success: false, ErrMessage: err.Error()}, nil
	}

	receipt, err := bind.WaitMined(ctx, b.client, tx)
	if err != nil {
		return &service.SettlementResult{Success: false, ErrMessage: err.Error()}, nil
	}
	if receipt.Status == 0 {
		return &service.SettlementResult{
			Success:    false,
			TxHash:     tx.Hash().Hex(),
			ErrMessage: "createEscrow 交易被回滚",
		}, nil
	}

	// 托管账户地址由合约派生，确认后查询
	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := b.contract.Call(callOpts, &out, "escrowOf", orderNo); err != nil {
		return &service.SettlementResult{Success: false, TxHash: tx.Hash().Hex(), ErrMessage: err.Error()}, nil
	}
	escrowAddr := out[0].(common.Address)

	return &service.SettlementResult{
		Success:       true,
		EscrowAddress: escrowAddr.Hex(),
		TxHash:        tx.Hash().Hex(),
		BlockNumber:   receipt.BlockNumber.Uint64(),
		GasUsed:       receipt.GasUsed,
	}, nil
}

// transact 放款/争议共用的交易提交路径
func (b *EthereumBackend) transact(ctx context.Context, method string, args ...interface{}) (*service.SettlementResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	opts := *b.auth
	opts.Context = ctx

	tx, err := b.contract.Transact(&opts, method, args...)
	if err != nil {
		return &service.SettlementResult{Success: false, ErrMessage: err.Error()}, nil
	}

	receipt, err := bind.WaitMined(ctx, b.client, tx)
	if err != nil {
		return &service.SettlementResult{Success: false, TxHash: tx.Hash().Hex(), ErrMessage: err.Error()}, nil
	}
	if receipt.Status == 0 {
		return &service.SettlementResult{
			Success:    false,
			TxHash:     tx.Hash().Hex(),
			ErrMessage: method + " 交易被回滚",
		}, nil
	}

	return &service.SettlementResult{
		Success:     true,
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// Release 放款给卖家
func (b *EthereumBackend) Release(ctx context.Context, escrowAddress string) (*service.SettlementResult, error) {
	if !common.IsHexAddress(escrowAddress) {
		return &service.SettlementResult{Success: false, ErrMessage: "托管地址不合法"}, nil
	}
	result, err := b.transact(ctx, "release", common.HexToAddress(escrowAddress))
	if err != nil {
		return nil, err
	}
	result.EscrowAddress = escrowAddress
	return result, nil
}

// Dispute 发起争议，冻结托管资金
func (b *EthereumBackend) Dispute(ctx context.Context, escrowAddress, reason string) (*service.SettlementResult, error) {
	if !common.IsHexAddress(escrowAddress) {
		return &service.SettlementResult{Success: false, ErrMessage: "托管地址不合法"}, nil
	}
	result, err := b.transact(ctx, "dispute", common.HexToAddress(escrowAddress), reason)
	if err != nil {
		return nil, err
	}
	result.EscrowAddress = escrowAddress
	return result, nil
}

// GetDetails 查询托管合约当前状态
func (b *EthereumBackend) GetDetails(ctx context.Context, escrowAddress string) (*service.EscrowDetails, error) {
	if !common.IsHexAddress(escrowAddress) {
		return nil, fmt.Errorf("托管地址不合法: %s", escrowAddress)
	}

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := b.contract.Call(callOpts, &out, "getDetails", common.HexToAddress(escrowAddress)); err != nil {
		return nil, fmt.Errorf("查询托管状态失败: %w", err)
	}

	status := out[0].(uint8)
	details := &service.EscrowDetails{
		Status:  escrowStatusNames[status],
		Balance: fromUnits(out[1].(*big.Int)),
		Buyer:   out[2].(common.Address).Hex(),
		Seller:  out[3].(common.Address).Hex(),
		Token:   out[4].(common.Address).Hex(),
		Amount:  fromUnits(out[5].(*big.Int)),
	}
	return details, nil
}

// GetTokenBalance 查询地址的 ERC20 余额
func (b *EthereumBackend) GetTokenBalance(ctx context.Context, address, tokenSymbol string) (float64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("钱包地址不合法: %s", address)
	}
	tokenAddr, err := b.tokenAddress(tokenSymbol)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	token := bind.NewBoundContract(tokenAddr, b.erc20, b.client, b.client, b.client)

	var out []interface{}
	callOpts := &bind.CallOpts{Context: ctx}
	if err := token.Call(callOpts, &out, "balanceOf", common.HexToAddress(address)); err != nil {
		return 0, fmt.Errorf("查询代币余额失败: %w", err)
	}

	return fromUnits(out[0].(*big.Int)), nil
}
