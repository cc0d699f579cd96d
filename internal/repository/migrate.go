package repository

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// PlayersColumns holds the columns for the "players" table.
	PlayersColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "name", Type: field.TypeString, Size: 200},
		{Name: "email", Type: field.TypeString, Unique: true, Nullable: true, Size: 320},
		{Name: "splitwise_user_id", Type: field.TypeInt64, Nullable: true},
		{Name: "is_default_payer", Type: field.TypeBool, Default: false},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// PlayersTable holds the schema information for the "players" table.
	PlayersTable = &schema.Table{
		Name:       "players",
		Columns:    PlayersColumns,
		PrimaryKey: []*schema.Column{PlayersColumns[0]},
	}

	// SessionsColumns holds the columns for the "sessions" table.
	SessionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "session_date", Type: field.TypeString, Unique: true, Size: 10},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "start_time", Type: field.TypeTime, Nullable: true},
		{Name: "end_time", Type: field.TypeTime, Nullable: true},
		{Name: "total_fee_cents", Type: field.TypeInt64, Default: 0},
		{Name: "location", Type: field.TypeString, Size: 255, Default: ""},
		{Name: "splitwise_status", Type: field.TypeString, Size: 16},
		{Name: "guest_count", Type: field.TypeInt, Default: 0},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "payer_player_id", Type: field.TypeUUID, Nullable: true},
	}
	// SessionsTable holds the schema information for the "sessions" table.
	SessionsTable = &schema.Table{
		Name:       "sessions",
		Columns:    SessionsColumns,
		PrimaryKey: []*schema.Column{SessionsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "sessions_players_payer",
				Columns:    []*schema.Column{SessionsColumns[11]},
				RefColumns: []*schema.Column{PlayersColumns[0]},
				OnDelete:   schema.SetNull,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "session_status_splitwise_status",
				Unique:  false,
				Columns: []*schema.Column{SessionsColumns[2], SessionsColumns[7]},
			},
		},
	}

	// CourtsColumns holds the columns for the "courts" table.
	CourtsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "court_label", Type: field.TypeString, Size: 64},
		{Name: "start_time", Type: field.TypeTime},
		{Name: "end_time", Type: field.TypeTime},
		{Name: "session_id", Type: field.TypeUUID},
	}
	// CourtsTable holds the schema information for the "courts" table.
	CourtsTable = &schema.Table{
		Name:       "courts",
		Columns:    CourtsColumns,
		PrimaryKey: []*schema.Column{CourtsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "courts_sessions_courts",
				Columns:    []*schema.Column{CourtsColumns[4]},
				RefColumns: []*schema.Column{SessionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "court_session_id",
				Unique:  false,
				Columns: []*schema.Column{CourtsColumns[4]},
			},
		},
	}

	// EmailReceiptsColumns holds the columns for the "email_receipts" table.
	EmailReceiptsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "gmail_message_id", Type: field.TypeString, Unique: true, Size: 128},
		{Name: "parse_status", Type: field.TypeString, Size: 16},
		{Name: "parse_error", Type: field.TypeString, Nullable: true, Size: 64},
		{Name: "parsed_session_date", Type: field.TypeString, Nullable: true, Size: 10},
		{Name: "parsed_total_fee", Type: field.TypeString, Nullable: true, Size: 32},
		{Name: "parsed_courts", Type: field.TypeJSON, Nullable: true},
		{Name: "parsed_location", Type: field.TypeString, Nullable: true, Size: 255},
		{Name: "received_at", Type: field.TypeTime, Nullable: true},
		{Name: "raw_body", Type: field.TypeString, Size: 2147483647},
		{Name: "created_at", Type: field.TypeTime},
	}
	// EmailReceiptsTable holds the schema information for the "email_receipts" table.
	EmailReceiptsTable = &schema.Table{
		Name:       "email_receipts",
		Columns:    EmailReceiptsColumns,
		PrimaryKey: []*schema.Column{EmailReceiptsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "emailreceipt_parsed_session_date_parse_status",
				Unique:  false,
				Columns: []*schema.Column{EmailReceiptsColumns[4], EmailReceiptsColumns[2]},
			},
		},
	}

	// SessionParticipantsColumns holds the columns for the "session_participants" table.
	SessionParticipantsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "joined_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "session_id", Type: field.TypeUUID},
		{Name: "player_id", Type: field.TypeUUID},
	}
	// SessionParticipantsTable holds the schema information for the "session_participants" table.
	SessionParticipantsTable = &schema.Table{
		Name:       "session_participants",
		Columns:    SessionParticipantsColumns,
		PrimaryKey: []*schema.Column{SessionParticipantsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "session_participants_sessions_participants",
				Columns:    []*schema.Column{SessionParticipantsColumns[4]},
				RefColumns: []*schema.Column{SessionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
			{
				Symbol:     "session_participants_players_sessions",
				Columns:    []*schema.Column{SessionParticipantsColumns[5]},
				RefColumns: []*schema.Column{PlayersColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{
				Name:    "sessionparticipant_session_id_player_id",
				Unique:  true,
				Columns: []*schema.Column{SessionParticipantsColumns[4], SessionParticipantsColumns[5]},
			},
		},
	}

	// ExpensesColumns holds the columns for the "expenses" table.
	ExpensesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "splitwise_expense_id", Type: field.TypeString, Nullable: true, Size: 64},
		{Name: "amount_cents", Type: field.TypeInt64},
		{Name: "last_error", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "request_payload", Type: field.TypeJSON, Nullable: true},
		{Name: "response_payload", Type: field.TypeJSON, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "session_id", Type: field.TypeUUID, Unique: true},
	}
	// ExpensesTable holds the schema information for the "expenses" table.
	ExpensesTable = &schema.Table{
		Name:       "expenses",
		Columns:    ExpensesColumns,
		PrimaryKey: []*schema.Column{ExpensesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "expenses_sessions_expense",
				Columns:    []*schema.Column{ExpensesColumns[9]},
				RefColumns: []*schema.Column{SessionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		PlayersTable,
		SessionsTable,
		CourtsTable,
		EmailReceiptsTable,
		SessionParticipantsTable,
		ExpensesTable,
	}
)

func init() {
	SessionsTable.ForeignKeys[0].RefTable = PlayersTable
	CourtsTable.ForeignKeys[0].RefTable = SessionsTable
	SessionParticipantsTable.ForeignKeys[0].RefTable = SessionsTable
	SessionParticipantsTable.ForeignKeys[1].RefTable = PlayersTable
	ExpensesTable.ForeignKeys[0].RefTable = SessionsTable
}

// Migrate creates or alters every table to match the declared schema.
func (d *DB) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(d.drv, schema.WithForeignKeys(true))
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		d.logger.Error("schema migration failed", "error", err)
		return fmt.Errorf("migrating schema: %w", err)
	}
	d.logger.Info("schema migrated", "tables", len(Tables))
	return nil
}
