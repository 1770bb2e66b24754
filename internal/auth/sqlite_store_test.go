package auth

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLiteStoreTokens(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()
	s := NewSQLiteStore(db)

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("access_token", "acc").
		AddRow("refresh_token", "ref")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value FROM credentials WHERE key IN (?, ?)")).
		WithArgs("access_token", "refresh_token").
		WillReturnRows(rows)

	tok, err := s.Tokens()
	if err != nil {
		t.Fatalf("Tokens() error = %v", err)
	}
	if tok.Access != "acc" || tok.Refresh != "ref" {
		t.Errorf("Tokens() = %+v", tok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLiteStoreClear(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   bool
	}{
		{
			name: "deletes both keys",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta("DELETE FROM credentials WHERE key IN (?, ?)")).
					WithArgs("access_token", "refresh_token").
					WillReturnResult(sqlmock.NewResult(0, 2))
			},
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM credentials").
					WillReturnError(context.DeadlineExceeded)
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock db: %v", err)
			}
			defer db.Close()
			tt.setupMock(mock)

			err = NewSQLiteStore(db).Clear()
			if (err != nil) != tt.wantErr {
				t.Errorf("Clear() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLiteStoreSaveRollback(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO credentials").
		WithArgs("access_token", "acc", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO credentials").
		WithArgs("refresh_token", "ref", sqlmock.AnyArg()).
		WillReturnError(context.Canceled)
	mock.ExpectRollback()

	if err := NewSQLiteStore(db).Save(context.Background(), Tokens{Access: "acc", Refresh: "ref"}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSQLiteStoreIntegration(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	defer s.Close()

	if err := s.Save(context.Background(), Tokens{Access: "a1", Refresh: "r1"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(context.Background(), Tokens{Access: "a2", Refresh: "r2"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	tok, err := s.Tokens()
	if err != nil || tok.Access != "a2" || tok.Refresh != "r2" {
		t.Fatalf("Tokens() = %+v, %v", tok, err)
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if tok, _ := s.Tokens(); !tok.Empty() {
		t.Errorf("Tokens() after Clear = %+v", tok)
	}
}
