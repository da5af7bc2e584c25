package idgen

import (
	"fmt"
	"time"

	"github.com/sony/sonyflake"
)

// Generator sonyflake 기반 사람이 읽을 수 있는 번호 생성기
type Generator struct {
	node *sonyflake.Sonyflake
}

// NewGenerator machineID 별 생성기 생성
func NewGenerator(machineID uint16) (*Generator, error) {
	start, _ := time.Parse("2006-01-02", "2024-01-01")
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: start,
		MachineID: func() (uint16, error) {
			return machineID, nil
		},
	})
	if sf == nil {
		return nil, fmt.Errorf("sonyflake not created")
	}
	return &Generator{node: sf}, nil
}

// ExchangeNumber 교환 요청 번호 (EXC-...)
func (g *Generator) ExchangeNumber() (string, error) {
	return g.next("EXC")
}

// OrderNumber 교환 주문 번호 (EXO-...)
func (g *Generator) OrderNumber() (string, error) {
	return g.next("EXO")
}

func (g *Generator) next(prefix string) (string, error) {
	id, err := g.node.NextID()
	if err != nil {
		return "", fmt.Errorf("failed to generate id: %w", err)
	}
	return fmt.Sprintf("%s-%d", prefix, id), nil
}
