package postgres

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tracked_contracts (
	account BYTEA NOT NULL,
	contract BYTEA NOT NULL,
	role SMALLINT NOT NULL,
	payer BYTEA NOT NULL,
	payee BYTEA NOT NULL,

	added_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	PRIMARY KEY (account, contract),

	CONSTRAINT account_len CHECK (octet_length(account) = 20),
	CONSTRAINT contract_len CHECK (octet_length(contract) = 20),
	CONSTRAINT payer_len CHECK (octet_length(payer) = 20),
	CONSTRAINT payee_len CHECK (octet_length(payee) = 20),
	CONSTRAINT role_range CHECK (role IN (1, 2))
);

CREATE INDEX IF NOT EXISTS tracked_contracts_account_idx ON tracked_contracts (account, added_at);

CREATE TABLE IF NOT EXISTS contract_closures (
	contract BYTEA PRIMARY KEY,
	reason TEXT NOT NULL,
	closed_at TIMESTAMPTZ NOT NULL,

	CONSTRAINT closure_contract_len CHECK (octet_length(contract) = 20),
	CONSTRAINT reason_nonempty CHECK (reason <> '')
);
`
