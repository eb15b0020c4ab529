package devicerepo

import (
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/edgelink/gateway/wire"
)

// insertTemplate inserts a new template row and its child manifest
// rows within the caller's open transaction, returning the new
// template's id.
func (r *Repository) insertTemplate(conn *sqlite.Conn, digest string, tmpl wire.DeviceTemplate) (int64, error) {
	typeParams, err := json.Marshal(tmpl.TypeParameters)
	if err != nil {
		return 0, fmt.Errorf("devicerepo: marshal type parameters: %w", err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO templates (digest, name, description, protocol, firmware_update_protocol, type_parameters)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{digest, tmpl.Name, tmpl.Description, tmpl.Protocol, tmpl.FirmwareUpdateProtocol, string(typeParams)},
		})
	if err != nil {
		return 0, fmt.Errorf("devicerepo: insert template: %w", err)
	}
	templateID := conn.LastInsertRowID()

	if err := insertChildren(conn, "template_sensors", templateID, tmpl.Sensors); err != nil {
		return 0, err
	}
	if err := insertChildren(conn, "template_actuators", templateID, tmpl.Actuators); err != nil {
		return 0, err
	}
	if err := insertChildren(conn, "template_alarms", templateID, tmpl.Alarms); err != nil {
		return 0, err
	}
	if err := insertChildren(conn, "template_configurations", templateID, tmpl.Configurations); err != nil {
		return 0, err
	}

	return templateID, nil
}

func insertChildren[T any](conn *sqlite.Conn, table string, templateID int64, items []T) error {
	query := fmt.Sprintf("INSERT INTO %s (template_id, seq, data) VALUES (?, ?, ?)", table)
	for seq, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("devicerepo: marshal %s[%d]: %w", table, seq, err)
		}
		err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: []any{templateID, seq, string(data)},
		})
		if err != nil {
			return fmt.Errorf("devicerepo: insert %s[%d]: %w", table, seq, err)
		}
	}
	return nil
}

// loadTemplate reconstructs a DeviceTemplate from the normalized tables.
func (r *Repository) loadTemplate(conn *sqlite.Conn, templateID int64) (wire.DeviceTemplate, error) {
	var tmpl wire.DeviceTemplate
	var typeParamsJSON string
	found := false

	err := sqlitex.Execute(conn,
		`SELECT name, description, protocol, firmware_update_protocol, type_parameters
		 FROM templates WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{templateID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tmpl.Name = stmt.ColumnText(0)
				tmpl.Description = stmt.ColumnText(1)
				tmpl.Protocol = stmt.ColumnText(2)
				tmpl.FirmwareUpdateProtocol = stmt.ColumnText(3)
				typeParamsJSON = stmt.ColumnText(4)
				found = true
				return nil
			},
		})
	if err != nil {
		return tmpl, fmt.Errorf("devicerepo: load template: %w", err)
	}
	if !found {
		return tmpl, fmt.Errorf("devicerepo: template %d not found", templateID)
	}

	if typeParamsJSON != "" {
		if err := json.Unmarshal([]byte(typeParamsJSON), &tmpl.TypeParameters); err != nil {
			return tmpl, fmt.Errorf("devicerepo: unmarshal type parameters: %w", err)
		}
	}

	if err := loadChildren(conn, "template_sensors", templateID, &tmpl.Sensors); err != nil {
		return tmpl, err
	}
	if err := loadChildren(conn, "template_actuators", templateID, &tmpl.Actuators); err != nil {
		return tmpl, err
	}
	if err := loadChildren(conn, "template_alarms", templateID, &tmpl.Alarms); err != nil {
		return tmpl, err
	}
	if err := loadChildren(conn, "template_configurations", templateID, &tmpl.Configurations); err != nil {
		return tmpl, err
	}

	return tmpl, nil
}

func loadChildren[T any](conn *sqlite.Conn, table string, templateID int64, out *[]T) error {
	query := fmt.Sprintf("SELECT data FROM %s WHERE template_id = ? ORDER BY seq ASC", table)
	var items []T
	var unmarshalErr error
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{templateID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var item T
			if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &item); err != nil {
				unmarshalErr = err
				return err
			}
			items = append(items, item)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("devicerepo: load %s: %w", table, err)
	}
	if unmarshalErr != nil {
		return fmt.Errorf("devicerepo: unmarshal %s: %w", table, unmarshalErr)
	}
	*out = items
	return nil
}
