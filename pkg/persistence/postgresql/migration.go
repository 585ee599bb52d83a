package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create node_logs table. Each payload is stored either inline in *_data
			-- or as a storage pointer in *_pointer, never both.
			CREATE TABLE node_logs (
				id VARCHAR(255) PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				execution_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255) NOT NULL,
				node_name VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('started', 'running', 'success', 'error', 'skipped', 'waiting')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT,
				input_data JSONB,
				input_pointer JSONB,
				output_data JSONB,
				output_pointer JSONB,
				error_message TEXT NOT NULL DEFAULT '',
				tokens_used INTEGER,
				cost_usd DOUBLE PRECISION,
				retry_count INTEGER NOT NULL DEFAULT 0,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				CONSTRAINT node_logs_input_placement CHECK (input_data IS NULL OR input_pointer IS NULL),
				CONSTRAINT node_logs_output_placement CHECK (output_data IS NULL OR output_pointer IS NULL)
			);
		`,
		2: `
			-- Indexes for execution lookups and retention sweeps
			CREATE INDEX idx_node_logs_execution_id ON node_logs(execution_id, started_at);
			CREATE INDEX idx_node_logs_started_at ON node_logs(started_at);
			CREATE INDEX idx_node_logs_workspace_id ON node_logs(workspace_id);
		`,
	}
}
