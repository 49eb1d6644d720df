package postgres

// Schema is the DDL the store expects. Applied by the host application's
// migration tooling; kept here so the store and its tables evolve together.
const Schema = `
create table if not exists units (
    id              text primary key,
    organization_id text not null,
    property_id     text not null,
    number          text not null
);
create index if not exists units_org_idx on units (organization_id);

create table if not exists tenants (
    id              text primary key,
    organization_id text not null,
    first_name      text not null,
    last_name       text not null,
    unit_id         text not null references units (id),
    iban            text not null default ''
);
create index if not exists tenants_org_idx on tenants (organization_id);

create table if not exists learned_patterns (
    id              text primary key,
    organization_id text not null,
    pattern         text not null,
    tenant_id       text not null default '',
    unit_id         text not null,
    use_count       integer not null default 1,
    created_at      timestamptz not null,
    unique (organization_id, pattern)
);

create table if not exists transactions (
    id                text primary key,
    organization_id   text not null,
    account_id        text not null,
    booking_date      date not null,
    amount            numeric(14,2) not null,
    currency          text not null,
    reference         text not null default '',
    counterparty_name text not null default '',
    unit_id           text not null default '',
    tenant_id         text not null default '',
    match_method      text not null,
    confidence        integer not null,
    created_at        timestamptz not null
);
create index if not exists transactions_dup_idx
    on transactions (account_id, booking_date, amount);

create table if not exists invoice_lines (
    id                     text primary key,
    organization_id        text not null,
    invoice_id             text not null,
    unit_id                text not null,
    line_type              text not null,
    description            text not null,
    normalized_description text not null,
    amount                 numeric(14,2) not null,
    tax_rate               numeric(5,2) not null,
    metadata               jsonb,
    created_at             timestamptz not null,
    deleted_at             timestamptz
);
create index if not exists invoice_lines_group_idx
    on invoice_lines (organization_id, invoice_id, unit_id, line_type, normalized_description)
    where deleted_at is null;

create table if not exists merge_tombstones (
    id               text primary key,
    organization_id  text not null,
    audit_log_id     text not null,
    group_key        text not null,
    canonical_id     text not null,
    deleted_line_ids jsonb not null,
    deleted_lines    jsonb not null,
    canonical_before jsonb not null,
    policy           text not null,
    merged_by        text not null,
    created_at       timestamptz not null,
    expires_at       timestamptz not null,
    undone_at        timestamptz,
    purged_at        timestamptz
);
create index if not exists merge_tombstones_group_idx
    on merge_tombstones (group_key)
    where undone_at is null and purged_at is null;

create table if not exists audit_log (
    id         text primary key,
    actor      text not null,
    table_name text not null,
    record_id  text not null,
    action     text not null,
    old_state  jsonb,
    new_state  jsonb,
    created_at timestamptz not null
);
`
