package models

import "time"

// DispatchReport summarises one run of the daily dispatcher.
type DispatchReport struct {
	Date        string    `bson:"date" json:"date"`
	Trigger     string    `bson:"trigger" json:"trigger"`
	DueActions  int       `bson:"due_actions" json:"due_actions"`
	Subscribers int       `bson:"subscribers" json:"subscribers"`
	Sent        int       `bson:"sent" json:"sent"`
	Failed      int       `bson:"failed" json:"failed"`
	StartedAt   time.Time `bson:"started_at" json:"started_at"`
	FinishedAt  time.Time `bson:"finished_at" json:"finished_at"`
}

// CompletionEvent records who completed which action, for the archive.
type CompletionEvent struct {
	BatchID     int       `bson:"batch_id" json:"batch_id"`
	Row         int       `bson:"row" json:"row"`
	ActionDate  string    `bson:"action_date" json:"action_date"`
	Description string    `bson:"description" json:"description"`
	CompletedBy string    `bson:"completed_by" json:"completed_by"`
	CompletedAt time.Time `bson:"completed_at" json:"completed_at"`
	Notified    int       `bson:"notified" json:"notified"`
}

// Discrepancy flags a batch whose Remaining disagrees with its sales log.
type Discrepancy struct {
	BatchID   int
	Remaining int
	Expected  int
}
