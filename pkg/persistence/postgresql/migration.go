package postgresql

// Migrations returns the schema history of the execution store. The
// app_tokens table is shared with the credential store.
func Migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				trigger_app VARCHAR(100) NOT NULL,
				trigger_event VARCHAR(100) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				actions JSONB NOT NULL DEFAULT '[]',
				enabled BOOLEAN NOT NULL DEFAULT false,
				execution_count BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_match ON workflows(owner_id, trigger_app, trigger_event) WHERE deleted_at IS NULL;
			CREATE INDEX idx_workflows_trigger_app ON workflows(trigger_app) WHERE deleted_at IS NULL;
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'succeeded', 'failed', 'partial')),
				event_id VARCHAR(255),
				trigger_data JSONB NOT NULL DEFAULT '{}',
				action_results JSONB NOT NULL DEFAULT '[]',
				error_message TEXT,
				test_run BOOLEAN NOT NULL DEFAULT false,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id, started_at DESC);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
		`,
		2: `
			CREATE TABLE app_tokens (
				user_id VARCHAR(255) NOT NULL,
				app_name VARCHAR(100) NOT NULL,
				access_token TEXT NOT NULL,
				external_account_id VARCHAR(255),
				connected BOOLEAN NOT NULL DEFAULT true,
				connected_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				last_used_at TIMESTAMP WITH TIME ZONE,
				PRIMARY KEY (user_id, app_name)
			);

			CREATE INDEX idx_app_tokens_external_account ON app_tokens(app_name, external_account_id) WHERE connected;
		`,
	}
}
