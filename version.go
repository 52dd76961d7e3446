package memdproxy

const buildVersion = "v0.1.0"
