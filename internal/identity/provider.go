// Package identity は外部IdPが管理するユーザー情報の参照を提供する。
package identity

import (
	"context"
	"fmt"

	"github.com/hitoshi/digestman/internal/model"
)

// Provider はユーザー情報を解決するインターフェース。
// 見つからない場合は nil, nil を返す。
type Provider interface {
	LookupUser(ctx context.Context, userID string) (*model.User, error)
}

// UserFinder はユーザー射影を保持するストアのインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// StoreProvider はIdPから同期されたusersテーブルを参照するProvider。
type StoreProvider struct {
	users UserFinder
}

// NewStoreProvider はStoreProviderを生成する。
func NewStoreProvider(users UserFinder) *StoreProvider {
	return &StoreProvider{users: users}
}

// LookupUser はユーザーを取得する。
func (p *StoreProvider) LookupUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := p.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return user, nil
}

var _ Provider = (*StoreProvider)(nil)
