// Package grpcguard adapts authgate.Engine to gRPC servers through unary and
// stream interceptors. The full method name ("/pkg.Service/Method") is used
// as the request path, so route policies and rate rules are written against
// method prefixes.
package grpcguard

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/edelzer/authgate"
	"github.com/edelzer/authgate/middleware"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Metadata keys read from incoming calls.
const (
	AuthorizationKey = "authorization"
	SessionIDKey     = "x-session-id"
	FingerprintKey   = "x-device-fingerprint"
	RequestIDKey     = "x-request-id"
)

// Method is the request method reported to the gate for gRPC calls.
const Method = "GRPC"

// UnaryServerInterceptor gates every unary call through engine.Check.
func UnaryServerInterceptor(engine *authgate.Engine) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := check(ctx, engine, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor gates every stream once, when it is opened.
func StreamServerInterceptor(engine *authgate.Engine) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := check(ss.Context(), engine, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &guardedStream{ServerStream: ss, ctx: ctx})
	}
}

type guardedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *guardedStream) Context() context.Context { return s.ctx }

func check(ctx context.Context, engine *authgate.Engine, fullMethod string) (context.Context, error) {
	req := BuildRequest(ctx, fullMethod)
	if engine == nil {
		return ctx, toStatus(authgate.ErrEngineNotReady)
	}

	principal, decision, err := engine.Check(ctx, req)
	_ = grpc.SetHeader(ctx, decisionMetadata(decision, req.RequestID))
	if err != nil {
		return ctx, toStatus(err)
	}
	if principal != nil {
		ctx = authgate.WithPrincipal(ctx, principal)
	}
	return ctx, nil
}

// BuildRequest extracts the gate inputs from incoming metadata and the peer.
func BuildRequest(ctx context.Context, fullMethod string) authgate.Request {
	req := authgate.Request{Method: Method, Path: fullMethod}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		req.ClientIP = middleware.HostOnly(p.Addr.String())
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := first(md, AuthorizationKey); len(v) > len("bearer ") && strings.EqualFold(v[:len("bearer ")], "bearer ") {
			req.BearerToken = strings.TrimSpace(v[len("bearer "):])
		}
		req.SessionID = first(md, SessionIDKey)
		req.Fingerprint = first(md, FingerprintKey)
		req.RequestID = first(md, RequestIDKey)
	}
	if !middleware.ValidRequestID(req.RequestID) {
		req.RequestID = uuid.NewString()
	}
	return req
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func decisionMetadata(d *authgate.Decision, requestID string) metadata.MD {
	md := metadata.Pairs(RequestIDKey, requestID)
	if d == nil {
		return md
	}
	if d.Limit > 0 {
		md.Set("x-ratelimit-limit", strconv.FormatInt(d.Limit, 10))
		md.Set("x-ratelimit-remaining", strconv.FormatInt(max(d.Remaining, 0), 10))
		if !d.Reset.IsZero() {
			md.Set("x-ratelimit-reset", strconv.FormatInt(d.Reset.Unix(), 10))
		}
	}
	if !d.Allowed && d.RetryAfter > 0 {
		md.Set("retry-after", strconv.FormatInt(int64(math.Ceil(d.RetryAfter.Seconds())), 10))
	}
	return md
}

// Code maps a gate error to its gRPC status code.
func Code(err error) codes.Code {
	switch authgate.HTTPStatus(err) {
	case http.StatusOK:
		return codes.OK
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

func toStatus(err error) error {
	return status.Error(Code(err), authgate.ErrorCode(err))
}
