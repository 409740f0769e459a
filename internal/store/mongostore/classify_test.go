package mongostore

import (
	"errors"
	"testing"

	"github.com/AnshRaj112/safemobile-backend/internal/store"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no documents", mongo.ErrNoDocuments, store.ErrNotFound},
		{"duplicate key", mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000"}}}, store.ErrDuplicate},
		{"document too large", mongo.CommandError{Code: 10334, Message: "BSONObj size"}, store.ErrQuotaExceeded},
		{"out of disk", mongo.CommandError{Code: 14031, Message: "space"}, store.ErrQuotaExceeded},
		{"anything else", errors.New("connection reset"), store.ErrStorageFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify("op", tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if classify("op", nil) != nil {
		t.Error("nil error should stay nil")
	}
}
