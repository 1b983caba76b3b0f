package sqlinline

// QSelectProviderKey returns the stored backend API key for a provider.
const QSelectProviderKey = `--sql 3c1f6b2e-9d47-4a0c-b5e8-71f2d0a9c4b6
select t.token
from integration_tokens t
where t.provider = lower($1::text)
  and t.token <> '';
`

const QUpsertProviderKey = `--sql b7e2a914-5c3d-4f86-a0d1-2e9c8f4b6a17
insert into integration_tokens (provider, token, properties)
values (lower($1::text), $2::text, coalesce($3::jsonb, '{}'::jsonb))
on conflict (provider) do update
set token      = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`

const QDeleteProviderKey = `--sql e41d9c07-2b8a-4e5f-9c36-d8a7f1b05e92
delete from integration_tokens
where provider = lower($1::text);
`
