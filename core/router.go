package core

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// adminCookieSuffix names the cookie that parks the admin session during impersonation.
const adminCookieSuffix = "_admin"

// Handler mounts every auth endpoint under the base path. Extensions are
// registered inside the same route group.
func (a *AuthService) Handler(extensions ...func(r chi.Router)) *chi.Mux {
	mux := chi.NewRouter()

	mux.Route(a.basePath, func(r chi.Router) {
		// Email and password
		r.Post("/sign-up/email", func(w http.ResponseWriter, r *http.Request) {
			resp := a.SignUpHandler(r)
			a.SetSessionCookie(w, resp.Token, resp.ExpiresAt)
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Post("/sign-in/email", func(w http.ResponseWriter, r *http.Request) {
			resp := a.SignInHandler(r)
			a.SetSessionCookie(w, resp.Token, resp.ExpiresAt)
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Post("/sign-out", func(w http.ResponseWriter, r *http.Request) {
			resp := a.SignOutHandler(r)
			a.ClearSessionCookie(w)
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Get("/get-session", func(w http.ResponseWriter, r *http.Request) {
			resp := a.GetSessionHandler(r)
			writeJSON(w, resp.StatusCode, resp)
		})

		// Social
		r.Get("/sign-in/social/{provider}", func(w http.ResponseWriter, r *http.Request) {
			resp := a.OAuthInitHandler(r, chi.URLParam(r, "provider"))
			if resp.StatusCode == http.StatusOK && r.URL.Query().Get("redirect") == "true" {
				http.Redirect(w, r, resp.URL, http.StatusFound)
				return
			}
			writeJSON(w, resp.StatusCode, resp)
		})
		r.Get("/callback/{provider}", func(w http.ResponseWriter, r *http.Request) {
			resp := a.OAuthCallbackHandler(r, chi.URLParam(r, "provider"))
			if resp.StatusCode != http.StatusOK {
				writeJSON(w, resp.StatusCode, resp)
				return
			}
			a.SetSessionCookie(w, resp.Token, resp.ExpiresAt)
			http.Redirect(w, r, resp.RedirectTo, http.StatusFound)
		})

		// Email links
		r.Post("/send-verification-email", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.SendVerificationEmailHandler(r)
			return resp.StatusCode, resp
		}))
		r.Get("/verify-email", a.redirectRoute(a.VerifyEmailHandler))
		r.Post("/request-password-reset", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.RequestPasswordResetHandler(r)
			return resp.StatusCode, resp
		}))
		r.Post("/reset-password", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.ResetPasswordHandler(r)
			return resp.StatusCode, resp
		}))

		// Profile
		r.Post("/update-user", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.UpdateUserHandler(r)
			return resp.StatusCode, resp
		}))
		r.Post("/change-password", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.ChangePasswordHandler(r)
			return resp.StatusCode, resp
		}))
		r.Post("/change-email", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.ChangeEmailHandler(r)
			return resp.StatusCode, resp
		}))
		r.Post("/delete-user", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.DeleteUserHandler(r)
			return resp.StatusCode, resp
		}))
		r.Get("/delete-user/callback", a.redirectRoute(a.DeleteUserCallbackHandler))

		// Sessions
		r.Get("/list-sessions", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.ListSessionsHandler(r)
			return resp.StatusCode, resp
		}))
		r.Post("/revoke-session", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.RevokeSessionHandler(r)
			return resp.StatusCode, resp
		}))
		r.Post("/revoke-other-sessions", a.jsonRoute(func(r *http.Request) (int, any) {
			resp := a.RevokeOtherSessionsHandler(r)
			return resp.StatusCode, resp
		}))

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Get("/list-users", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.ListUsersHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/set-role", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.SetRoleHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/ban-user", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.BanUserHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/unban-user", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.UnbanUserHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/remove-user", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.RemoveUserHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/revoke-user-sessions", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.RevokeUserSessionsHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/impersonate-user", func(w http.ResponseWriter, r *http.Request) {
				resp := a.ImpersonateUserHandler(r)
				if resp.StatusCode == http.StatusOK {
					a.setAdminCookie(w, resp.AdminToken)
					a.SetSessionCookie(w, resp.Token, resp.ExpiresAt)
				}
				writeJSON(w, resp.StatusCode, resp)
			})
			r.Post("/stop-impersonating", func(w http.ResponseWriter, r *http.Request) {
				adminToken := ""
				if c, err := r.Cookie(a.securityConfig.CookieName + adminCookieSuffix); err == nil {
					adminToken = c.Value
				}
				resp := a.StopImpersonatingHandler(r, adminToken)
				if resp.StatusCode == http.StatusOK {
					a.setAdminCookie(w, "")
					a.SetSessionCookie(w, resp.Token, resp.ExpiresAt)
				}
				// Browser form posts land on the admin console once the admin is back.
				if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
					target := "/"
					if resp.StatusCode == http.StatusOK {
						target = "/admin"
					}
					http.Redirect(w, r, target, http.StatusSeeOther)
					return
				}
				writeJSON(w, resp.StatusCode, resp)
			})
			r.Post("/has-permission", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.HasPermissionHandler(r)
				return resp.StatusCode, resp
			}))
		})

		// Organizations
		r.Route("/organization", func(r chi.Router) {
			r.Post("/create", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.CreateOrganizationHandler(r)
				return resp.StatusCode, resp
			}))
			r.Get("/list", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.ListOrganizationsHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/set-active", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.SetActiveOrganizationHandler(r)
				return resp.StatusCode, resp
			}))
			r.Get("/get-full-organization", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.GetFullOrganizationHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/invite-member", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.InviteMemberHandler(r)
				return resp.StatusCode, resp
			}))
			r.Get("/get-invitation", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.GetInvitationHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/accept-invitation", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.AcceptInvitationHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/reject-invitation", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.RejectInvitationHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/cancel-invitation", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.CancelInvitationHandler(r)
				return resp.StatusCode, resp
			}))
			r.Post("/remove-member", a.jsonRoute(func(r *http.Request) (int, any) {
				resp := a.RemoveMemberHandler(r)
				return resp.StatusCode, resp
			}))
		})

		for _, ext := range extensions {
			ext(r)
		}
	})

	return mux
}

// jsonRoute adapts a return-based handler to an http.HandlerFunc.
func (a *AuthService) jsonRoute(h func(r *http.Request) (int, any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := h(r)
		writeJSON(w, status, body)
	}
}

// redirectRoute serves email link callbacks: failures as JSON, successes as
// a redirect that also sets any session the callback opened.
func (a *AuthService) redirectRoute(h func(r *http.Request) RedirectResponse) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h(r)
		if resp.StatusCode != http.StatusOK {
			writeJSON(w, resp.StatusCode, resp)
			return
		}
		a.SetSessionCookie(w, resp.Token, resp.ExpiresAt)
		http.Redirect(w, r, resp.RedirectTo, http.StatusFound)
	}
}

func (a *AuthService) setAdminCookie(w http.ResponseWriter, token string) {
	cookie := &http.Cookie{
		Name:     a.securityConfig.CookieName + adminCookieSuffix,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.securityConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		cookie.MaxAge = -1
	} else {
		cookie.Expires = time.Now().Add(a.securityConfig.SessionLifetime)
	}
	http.SetCookie(w, cookie)
}
