package token

// Store key builders. Keys are plain prefixes joined with the id so operators
// can inspect them with redis-cli.

func blacklistKey(jti string) string { return "blacklist:" + jti }

func revokedKey(subject string) string { return "user_revoked:" + subject }

func refreshKey(jti string) string { return "refresh_token:" + jti }
