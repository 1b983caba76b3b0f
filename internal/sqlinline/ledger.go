package sqlinline

const QSelectLedgerByJob = `--sql 8566b291-9ba7-47bd-8808-9a17669d117a
select id::text, job_id::text, owner_id, account_id, kind, amount, reason, idempotency_key, created_at
from credit_ledger
where job_id = $1::uuid
order by created_at asc, id asc;
`
