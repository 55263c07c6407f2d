package repo

import (
	"context"
	"database/sql"
)

// StoredResponse is the replay record for an already-executed request id.
// Retried attempts carrying the same id get the stored outcome back instead
// of re-running the mutation. Status 0 marks a reservation whose outcome is
// still in flight.
type StoredResponse struct {
	RequestID   string
	Method      string
	Path        string
	Status      int
	ContentType string
	BodyJSON    string
	CreatedAt   string
}

// Pending reports whether the request id is reserved but not yet settled.
func (sr *StoredResponse) Pending() bool { return sr.Status == 0 }

// FindRequest returns (nil, nil) for an unseen request id.
func (r Repo) FindRequest(ctx context.Context, requestID string) (*StoredResponse, error) {
	var sr StoredResponse
	err := r.DB.QueryRowContext(ctx,
		`SELECT request_id,method,path,status,content_type,body_json,created_at FROM request_log WHERE request_id=?`, requestID).
		Scan(&sr.RequestID, &sr.Method, &sr.Path, &sr.Status, &sr.ContentType, &sr.BodyJSON, &sr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

// ReserveRequest claims a request id before the mutation runs. Exactly one
// concurrent attempt wins the insert; the losers see false and must wait for
// the winner's stored outcome.
func (r Repo) ReserveRequest(ctx context.Context, requestID, method, path, createdAt string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT OR IGNORE INTO request_log(request_id,method,path,status,content_type,body_json,created_at) VALUES (?,?,?,0,'','',?)`,
		requestID, method, path, createdAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteRequest settles a reservation with the outcome to replay. Only the
// pending row is touched, so a settled outcome is never overwritten.
func (r Repo) CompleteRequest(ctx context.Context, requestID string, status int, contentType, bodyJSON string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE request_log SET status=?, content_type=?, body_json=? WHERE request_id=? AND status=0`,
		status, contentType, bodyJSON, requestID)
	return err
}

// ReleaseRequest drops an unsettled reservation so a retry re-executes.
// Used when the attempt ended in a transient server failure.
func (r Repo) ReleaseRequest(ctx context.Context, requestID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM request_log WHERE request_id=? AND status=0`, requestID)
	return err
}
