package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	Machine *MachineRepository
	Record  *MachiningRecordRepository
	Event   *CncEventRepository
	Order   *OrderRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Machine: NewMachineRepository(db),
		Record:  NewMachiningRecordRepository(db),
		Event:   NewCncEventRepository(db),
		Order:   NewOrderRepository(db),
	}
}
