package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AppendChatMessage inserts one append-only chat transcript entry.
func (s *Store) AppendChatMessage(ctx context.Context, m ChatMessage) error {
	const q = `
		INSERT INTO chat_messages
		    (id, session_id, role, content, campaign_id, npc_id, sources, created_at, archived)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now(), $8)`

	_, err := s.pool.Exec(ctx, q,
		m.ID, m.SessionID, string(m.Role), m.Content, m.CampaignID, m.NPCID, m.Sources, m.Archived,
	)
	if err != nil {
		return fmt.Errorf("storage: append chat message: %w", err)
	}
	return nil
}

// GetChatHistory returns a session's messages in chronological order,
// optionally excluding archived entries.
func (s *Store) GetChatHistory(ctx context.Context, sessionID string, includeArchived bool, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT id, session_id, role, content, campaign_id, npc_id, sources, created_at, archived
		FROM chat_messages
		WHERE session_id = $1`
	if !includeArchived {
		q += " AND archived = false"
	}
	q += " ORDER BY created_at DESC LIMIT $2"

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get chat history: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		m, err := scanChatMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: get chat history: scan: %w", err)
		}
		messages = append(messages, m)
	}
	// Reverse to chronological order (query above fetches most-recent-first
	// to make LIMIT cheap against the created_at index).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, rows.Err()
}

func scanChatMessageRow(row pgx.Row) (ChatMessage, error) {
	var (
		m    ChatMessage
		role string
	)
	err := row.Scan(
		&m.ID, &m.SessionID, &role, &m.Content, &m.CampaignID, &m.NPCID,
		&m.Sources, &m.CreatedAt, &m.Archived,
	)
	if err != nil {
		return ChatMessage{}, err
	}
	m.Role = ChatRole(role)
	return m, nil
}

// RecordUsage appends one billed-generation ledger entry. Called by the LLM
// Router only after a provider call succeeds, per the router's
// record-cost-on-success contract.
func (s *Store) RecordUsage(ctx context.Context, u UsageRecord) error {
	const q = `
		INSERT INTO usage_records (provider_id, model, input_tokens, output_tokens, cost_usd, timestamp)
		VALUES ($1,$2,$3,$4,$5, now())`

	_, err := s.pool.Exec(ctx, q, u.ProviderID, u.Model, u.InputTokens, u.OutputTokens, u.CostUSD)
	if err != nil {
		return fmt.Errorf("storage: record usage: %w", err)
	}
	return nil
}

// TotalCostSince sums cost_usd across all usage records at or after since,
// used by the router's budget enforcement to check spend against a
// configured ceiling.
func (s *Store) TotalCostSince(ctx context.Context, sinceUnixSeconds int64) (float64, error) {
	const q = `SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records WHERE timestamp >= to_timestamp($1)`

	var total float64
	if err := s.pool.QueryRow(ctx, q, sinceUnixSeconds).Scan(&total); err != nil {
		return 0, fmt.Errorf("storage: total cost since: %w", err)
	}
	return total, nil
}
