package devicerepo

const schema = `
CREATE TABLE IF NOT EXISTS templates (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	digest TEXT NOT NULL UNIQUE,
	name                     TEXT NOT NULL,
	description              TEXT NOT NULL,
	protocol                 TEXT NOT NULL,
	firmware_update_protocol TEXT NOT NULL,
	type_parameters          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS template_sensors (
	template_id INTEGER NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_template_sensors_template ON template_sensors(template_id, seq);

CREATE TABLE IF NOT EXISTS template_actuators (
	template_id INTEGER NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_template_actuators_template ON template_actuators(template_id, seq);

CREATE TABLE IF NOT EXISTS template_alarms (
	template_id INTEGER NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_template_alarms_template ON template_alarms(template_id, seq);

CREATE TABLE IF NOT EXISTS template_configurations (
	template_id INTEGER NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_template_configurations_template ON template_configurations(template_id, seq);

CREATE TABLE IF NOT EXISTS devices (
	key         TEXT PRIMARY KEY,
	password    TEXT NOT NULL,
	template_id INTEGER NOT NULL REFERENCES templates(id) ON DELETE RESTRICT
);
`
