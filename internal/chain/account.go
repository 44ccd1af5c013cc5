package chain

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SigningAccount 封装操作钱包的私钥与派生地址
type SigningAccount struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

// NewSigningAccount 从 hex 私钥 (不含 0x 前缀) 构造签名账户
func NewSigningAccount(hexKey string) (*SigningAccount, error) {
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("私钥解析失败: %w", err)
	}
	return &SigningAccount{
		priv: priv,
		addr: crypto.PubkeyToAddress(priv.PublicKey),
	}, nil
}

// Address 返回操作钱包地址
func (a *SigningAccount) Address() common.Address {
	return a.addr
}

// Hex 返回操作钱包地址的十六进制表示
func (a *SigningAccount) Hex() string {
	return a.addr.Hex()
}
