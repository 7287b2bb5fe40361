// Package snowflake 生成按时间递增的 64 位 ID，用于事件、票据、支付等文档主键
package snowflake

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	// 起始时间戳 (2023-01-01 00:00:00 UTC)
	epoch int64 = 1672531200000

	workerIDBits     = 5
	datacenterIDBits = 5
	sequenceBits     = 12

	MaxWorkerID     = -1 ^ (-1 << workerIDBits)     // 31
	MaxDatacenterID = -1 ^ (-1 << datacenterIDBits) // 31
	maxSequence     = -1 ^ (-1 << sequenceBits)     // 4095

	workerIDShift      = sequenceBits
	datacenterIDShift  = sequenceBits + workerIDBits
	timestampLeftShift = sequenceBits + workerIDBits + datacenterIDBits
)

var (
	ErrNodeOutOfRange = errors.New("snowflake: datacenter or worker id out of range")
	ErrClockBackwards = errors.New("snowflake: clock moved backwards")
)

// Generator 并发安全的 ID 生成器，每个服务进程配置不同的 (datacenter, worker)
type Generator struct {
	mu            sync.Mutex
	datacenterID  int64
	workerID      int64
	sequence      int64
	lastTimestamp int64
	now           func() int64
}

// NewGenerator 创建生成器
func NewGenerator(datacenterID, workerID int64) (*Generator, error) {
	if datacenterID < 0 || datacenterID > MaxDatacenterID || workerID < 0 || workerID > MaxWorkerID {
		return nil, ErrNodeOutOfRange
	}
	return &Generator{
		datacenterID:  datacenterID,
		workerID:      workerID,
		lastTimestamp: -1,
		now:           func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID 生成下一个 ID
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now < g.lastTimestamp {
		return 0, ErrClockBackwards
	}

	if now == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// 同一毫秒内序列号用完，等待下一毫秒
			for now <= g.lastTimestamp {
				now = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = now

	return ((now - epoch) << timestampLeftShift) |
		(g.datacenterID << datacenterIDShift) |
		(g.workerID << workerIDShift) |
		g.sequence, nil
}

// NextString 生成十进制字符串形式的 ID，文档存储以字符串为键
func (g *Generator) NextString() (string, error) {
	id, err := g.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// parts ID 的组成部分
type parts struct {
	Time         time.Time
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

func parse(id int64) parts {
	return parts{
		Time:         time.UnixMilli((id >> timestampLeftShift) + epoch).UTC(),
		DatacenterID: (id >> datacenterIDShift) & MaxDatacenterID,
		WorkerID:     (id >> workerIDShift) & MaxWorkerID,
		Sequence:     id & maxSequence,
	}
}
