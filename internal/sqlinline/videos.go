package sqlinline

const QInsertVideoJob = `--sql 5bd109ca-b72b-4a8f-b6e5-119cca50eb93
with job as (
  insert into video_jobs (
    id, owner_id, account_id, status, provider, external_ref, prompt, style, aspect_ratio,
    progress_pct, extension_step, extension_total, target_duration_seconds, credit_cost,
    credits_refunded, error_kind, error_message, created_at, updated_at
  )
  values (
    $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::text, $9::text,
    0, 0, $10::int, $11::int, $12::int,
    false, 'none', '', now(), now()
  )
  returning id, owner_id, account_id, created_at, updated_at
),
debit as (
  insert into credit_ledger (id, job_id, owner_id, account_id, kind, amount, reason, idempotency_key, created_at)
  select $13::uuid, job.id, job.owner_id, job.account_id, 'debit', $14::int, $15::text, $16::text, now()
  from job
  returning id
)
select job.created_at, job.updated_at, (select count(*) from debit)
from job;
`

const QSelectVideoJobByID = `--sql cfa15682-256f-4906-8415-c7645c1726b1
select
  id::text, owner_id, account_id, status, provider, external_ref, prompt, style, aspect_ratio,
  progress_pct, raw_video_url, final_video_url, thumbnail_url,
  extension_step, extension_total, extension_video_uri, extension_claimed_at,
  target_duration_seconds, duration_seconds, credit_cost, credits_refunded,
  error_kind, error_message, created_at, updated_at
from video_jobs
where id = $1::uuid
limit 1;
`

const QSelectVideoJobForOwner = `--sql 2fcc7d99-f84e-4352-9765-aba4347e7d19
select
  id::text, owner_id, account_id, status, provider, external_ref, prompt, style, aspect_ratio,
  progress_pct, raw_video_url, final_video_url, thumbnail_url,
  extension_step, extension_total, extension_video_uri, extension_claimed_at,
  target_duration_seconds, duration_seconds, credit_cost, credits_refunded,
  error_kind, error_message, created_at, updated_at
from video_jobs
where id = $1::uuid
  and owner_id = $2::text
limit 1;
`

const QListVideoJobsForOwner = `--sql cbe42759-9ebe-49e1-9604-dc91332f3836
select
  id::text, owner_id, account_id, status, provider, external_ref, prompt, style, aspect_ratio,
  progress_pct, raw_video_url, final_video_url, thumbnail_url,
  extension_step, extension_total, extension_video_uri, extension_claimed_at,
  target_duration_seconds, duration_seconds, credit_cost, credits_refunded,
  error_kind, error_message, created_at, updated_at
from video_jobs
where owner_id = $1::text
  and (cardinality($2::text[]) = 0 or status = any($2::text[]))
  and ($3::text = '' or provider = $3::text)
order by created_at desc
limit $4::int;
`

const QListPendingVideoJobs = `--sql cf0ea192-15f8-4337-86d6-e06bc59cb169
select
  id::text, owner_id, account_id, status, provider, external_ref, prompt, style, aspect_ratio,
  progress_pct, raw_video_url, final_video_url, thumbnail_url,
  extension_step, extension_total, extension_video_uri, extension_claimed_at,
  target_duration_seconds, duration_seconds, credit_cost, credits_refunded,
  error_kind, error_message, created_at, updated_at
from video_jobs
where status in ('queued', 'generating', 'extending')
order by updated_at asc
limit $1::int;
`

const QMarkVideoJobDispatched = `--sql a2c3de28-6401-4d2c-bc32-3d132dc63b98
update video_jobs
set status = 'generating',
    external_ref = $2::text,
    updated_at = now()
where id = $1::uuid
  and status = 'queued';
`

const QUpdateVideoJobProgress = `--sql 8537dc91-d98d-45b4-a480-64e357c3bd43
update video_jobs
set progress_pct = greatest(progress_pct, $2::int),
    updated_at = now()
where id = $1::uuid
  and status in ('generating', 'extending')
  and progress_pct < $2::int;
`

const QCompleteVideoJob = `--sql 91e61d78-7efc-48e4-89ae-2a3fefa4ffaa
with upd as (
  update video_jobs
  set status = 'complete',
      progress_pct = 100,
      raw_video_url = $2::text,
      duration_seconds = $3::int,
      extension_step = $4::int,
      extension_total = $5::int,
      extension_video_uri = $6::text,
      error_kind = $7::text,
      error_message = $8::text,
      credits_refunded = credits_refunded or $10::int > 0,
      credit_cost = case when $13::int > 0 then $13::int else credit_cost end,
      updated_at = now()
  where id = $1::uuid
    and status in ('queued', 'generating', 'extending')
  returning id, owner_id, account_id
),
refund as (
  insert into credit_ledger (id, job_id, owner_id, account_id, kind, amount, reason, idempotency_key, created_at)
  select $9::uuid, upd.id, upd.owner_id, upd.account_id, 'refund', $10::int, $11::text, $12::text, now()
  from upd
  where $10::int > 0
  on conflict (idempotency_key) do nothing
  returning id
)
select (select count(*) from upd), (select count(*) from refund);
`

const QFailVideoJob = `--sql bf908fc6-ac55-4731-829a-82ef147492bd
with upd as (
  update video_jobs
  set status = 'failed',
      error_kind = $2::text,
      error_message = $3::text,
      credits_refunded = credits_refunded or $5::int > 0,
      updated_at = now()
  where id = $1::uuid
    and status in ('queued', 'generating', 'extending')
  returning id, owner_id, account_id
),
refund as (
  insert into credit_ledger (id, job_id, owner_id, account_id, kind, amount, reason, idempotency_key, created_at)
  select $4::uuid, upd.id, upd.owner_id, upd.account_id, 'refund', $5::int, $6::text, $7::text, now()
  from upd
  where $5::int > 0
  on conflict (idempotency_key) do nothing
  returning id
)
select (select count(*) from upd), (select count(*) from refund);
`

// QClaimVideoJobExtension is the chain's compare-and-swap: it only matches
// while the stored step and ref are still the ones the poller observed.
const QClaimVideoJobExtension = `--sql 5f2bf72f-6291-425f-ba3f-fb1f70a0b37f
update video_jobs
set extension_step = $4::int,
    status = 'extending',
    external_ref = $5::text,
    extension_video_uri = $6::text,
    extension_claimed_at = $7::timestamptz,
    updated_at = now()
where id = $1::uuid
  and extension_step = $2::int
  and external_ref = $3::text
  and status in ('generating', 'extending');
`

const QSetVideoJobExtensionRef = `--sql da865021-1884-4944-9101-b4c62fbfd185
update video_jobs
set external_ref = $3::text,
    updated_at = now()
where id = $1::uuid
  and extension_step = $2::int
  and status = 'extending'
  and external_ref like 'pending:%';
`

const QPromoteVideoJobToChain = `--sql d4b91837-549e-4d0e-90fd-0e336a96c346
with upd as (
  update video_jobs
  set status = 'extending',
      provider = 'operation-chained',
      extension_step = $3::int,
      extension_total = $4::int,
      credit_cost = $5::int,
      external_ref = $6::text,
      extension_claimed_at = $7::timestamptz,
      error_kind = 'none',
      error_message = '',
      updated_at = now()
  where id = $1::uuid
    and status = 'complete'
    and extension_step = $2::int
  returning id, owner_id, account_id
),
debit as (
  insert into credit_ledger (id, job_id, owner_id, account_id, kind, amount, reason, idempotency_key, created_at)
  select $8::uuid, upd.id, upd.owner_id, upd.account_id, 'debit', $9::int, $10::text, $11::text, now()
  from upd
  on conflict (idempotency_key) do nothing
  returning id
)
select (select count(*) from upd), (select count(*) from debit);
`

const QRestoreCompletedVideoJob = `--sql 3e4abb44-eaab-4551-bcec-480223c95482
with upd as (
  update video_jobs
  set status = 'complete',
      provider = $3::text,
      external_ref = $4::text,
      extension_total = $5::int,
      credit_cost = $6::int,
      extension_step = $11::int,
      credits_refunded = credits_refunded or $8::int > 0,
      extension_claimed_at = null,
      updated_at = now()
  where id = $1::uuid
    and status = 'extending'
    and external_ref = $2::text
  returning id, owner_id, account_id
),
refund as (
  insert into credit_ledger (id, job_id, owner_id, account_id, kind, amount, reason, idempotency_key, created_at)
  select $7::uuid, upd.id, upd.owner_id, upd.account_id, 'refund', $8::int, $9::text, $10::text, now()
  from upd
  where $8::int > 0
  on conflict (idempotency_key) do nothing
  returning id
)
select (select count(*) from upd), (select count(*) from refund);
`
