/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) attachRoutes(g *gin.Engine) {
	g.GET("/healthz", s.health)
	g.GET("/plugins", s.listPlugins)
	g.GET("/plugins/:name", s.pluginInfo)
	g.GET("/jobs", s.listJobs)
	g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"plugins": len(s.registry.Names()),
	}
	if s.scheduler != nil {
		resp["scheduler_running"] = s.scheduler.Running()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) listPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List(c.Request.Context()))
}

func (s *Server) pluginInfo(c *gin.Context) {
	info, ok := s.registry.Info(c.Request.Context(), c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "plugin not found: " + c.Param("name")})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) listJobs(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, s.scheduler.Jobs())
}
