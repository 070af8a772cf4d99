package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"ToolPilot/internal/config"
	apperrors "ToolPilot/internal/errors"
	"ToolPilot/internal/storage"
)

// Repository 是基于 MySQL 的转录仓库实现。
type Repository struct {
	db *sql.DB
}

// NewRepository 打开连接池并做一次连通性检查。
func NewRepository(cfg config.HistoryConfig) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "mysql 转录仓库缺少 DSN")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "打开 mysql 连接失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeSeconds > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "mysql 连通性检查失败")
	}

	return &Repository{db: db}, nil
}

// Append 插入一条转录记录。
func (r *Repository) Append(ctx context.Context, record *storage.TurnRecord) error {
	const query = `
INSERT INTO turns (id, session_id, sequence, input, tool, response, status, error, latency_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.SessionID,
		record.Sequence,
		record.Input,
		record.Tool,
		record.Response,
		record.Status,
		record.Error,
		record.LatencyMS,
		record.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err,
			fmt.Sprintf("写入转录失败 session=%s seq=%d", record.SessionID, record.Sequence))
	}
	return nil
}

// ListBySession 按序号升序返回指定会话最近的 limit 条转录。
func (r *Repository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*storage.TurnRecord, error) {
	query := `
SELECT id, session_id, sequence, input, tool, response, status, error, latency_ms, created_at
FROM turns
WHERE session_id = ?
ORDER BY sequence DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "查询转录失败")
	}
	defer rows.Close()

	var records []*storage.TurnRecord
	for rows.Next() {
		record := &storage.TurnRecord{}
		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Sequence,
			&record.Input,
			&record.Tool,
			&record.Response,
			&record.Status,
			&record.Error,
			&record.LatencyMS,
			&record.CreatedAt,
		); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "扫描转录记录失败")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "遍历转录记录失败")
	}

	// 查询按倒序取最近 N 条，返回前恢复为时间正序。
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// ClearSession 删除指定会话的全部转录。
func (r *Repository) ClearSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, err, "清空会话转录失败")
	}
	return nil
}

// Close 关闭连接池。
func (r *Repository) Close() error {
	return r.db.Close()
}
