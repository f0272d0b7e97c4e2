package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"tasksync/internal/domain"
	"tasksync/internal/models"
)

// SingleItemClient dispatches a batch as a sequence of legacy per-task calls, for peers
// that do not expose the batch endpoint. There is no server-side checksum check on this path.
type SingleItemClient struct {
	*Client
}

func NewSingleItemClient(c *Client) *SingleItemClient {
	return &SingleItemClient{Client: c}
}

// SendBatch sends items one at a time and reports per-item outcomes in order. It stops
// early only when ctx is cancelled, returning the cancellation so nothing is recorded.
func (s *SingleItemClient) SendBatch(ctx context.Context, items []domain.BatchItem, checksum string) (*domain.BatchResult, error) {
	res := &domain.BatchResult{Results: make([]domain.ItemResult, 0, len(items))}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result := domain.ItemResult{TaskID: item.TaskID, Operation: item.Operation}
		data, err := s.sendOne(ctx, item)
		switch {
		case err == nil:
			result.Success = true
			result.Data = data
			res.SyncedItems++
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			result.Error = err.Error()
			if kind, ok := KindOf(err); ok && kind == KindValidation {
				result.Code = CodeValidation
			}
			res.FailedItems++
		}
		res.Results = append(res.Results, result)
	}

	res.Success = res.FailedItems == 0
	return res, nil
}

func (s *SingleItemClient) sendOne(ctx context.Context, item domain.BatchItem) (json.RawMessage, error) {
	var task models.Task
	if err := json.Unmarshal(item.Data, &task); err != nil {
		return nil, &RemoteError{Kind: KindValidation, Message: "decode task snapshot", Err: err}
	}
	if task.ID == "" {
		task.ID = item.TaskID
	}
	if item.ServerID != "" {
		sid := item.ServerID
		task.ServerID = &sid
	}

	var (
		out *models.Task
		err error
	)
	switch item.Operation {
	case models.OpCreate:
		out, err = s.CreateTask(ctx, &task)
	case models.OpUpdate:
		out, err = s.UpdateTask(ctx, &task)
	case models.OpDelete:
		err = s.DeleteTask(ctx, &task)
	default:
		return nil, &RemoteError{Kind: KindValidation, Message: fmt.Sprintf("unsupported operation %s", item.Operation)}
	}
	if err != nil || out == nil {
		return nil, err
	}
	return json.Marshal(out)
}
